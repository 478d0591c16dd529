package config

import (
	"github.com/kelseyhightower/envconfig"
)

// App holds every runtime setting the server reads from the environment.
type App struct {
	// Server
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	SecretKey  string `envconfig:"SECRET_KEY" required:"true"`

	// Database
	DBURL string `envconfig:"DB_URL" required:"true"`

	// Payment gateway
	MercadoPagoBaseURL string `envconfig:"MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
	WebhookSecret      string `envconfig:"PAYMENT_WEBHOOK_SECRET" required:"true"`

	// Checkout tuning
	PollIntervalSec int `envconfig:"CHECKOUT_POLL_INTERVAL_SEC" default:"5"`
	PollMaxAttempts int `envconfig:"CHECKOUT_POLL_MAX_ATTEMPTS" default:"60"`
	SlotHoldMinutes int `envconfig:"CHECKOUT_SLOT_HOLD_MINUTES" default:"15"`
	OfferMinutes    int `envconfig:"CHECKOUT_OFFER_MINUTES" default:"15"`
	SimApproveSec   int `envconfig:"SIMULATED_APPROVE_SEC" default:"20"`
	CheckoutRPS     int `envconfig:"CHECKOUT_RATE_RPS" default:"5"`
	CheckoutBurst   int `envconfig:"CHECKOUT_RATE_BURST" default:"10"`

	// Fulfillment collaborators
	RoomBaseURL     string `envconfig:"ROOM_BASE_URL" default:"https://sala.agendali.app"`
	CalendarSyncURL string `envconfig:"CALENDAR_SYNC_URL"`

	// SMTP
	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser string `envconfig:"SMTP_USER"`
	SMTPPass string `envconfig:"SMTP_PASS"`
}

// Load reads the configuration from the process environment.
func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
