package models

import (
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Gateway names persisted with a professional's payment settings.
const (
	GatewayMercadoPago = "mercadopago"
	GatewaySimulated   = "simulated"
)

type Professional struct {
	gorm.Model
	FullName string `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email    string `gorm:"column:email;size:255;not null" json:"email"`
	Phone    string `gorm:"column:phone;size:20" json:"phone"`

	// Demo profiles are sandboxed accounts used for product demonstration.
	// They must never reach a payment gateway or the transaction ledger.
	Demo bool `gorm:"column:demo;default:false" json:"demo"`

	Gateway      string `gorm:"column:gateway;size:50" json:"gateway"`
	GatewayToken string `gorm:"column:gateway_token;size:255" json:"-"`

	// Checkout form configuration.
	RequirePhone bool `gorm:"column:require_phone;default:false" json:"require_phone"`
	RequireCPF   bool `gorm:"column:require_cpf;default:false" json:"require_cpf"`

	CalendarConnected bool `gorm:"column:calendar_connected;default:false" json:"calendar_connected"`

	// Channels the professional wants booking notifications on
	// (e.g. {"email","push"}).
	NotifyChannels pq.StringArray `gorm:"type:text[];column:notify_channels" json:"notify_channels,omitempty"`

	Services []Service `gorm:"foreignKey:ProfessionalID" json:"services,omitempty"`
}

func (Professional) TableName() string {
	return "professionals"
}

type Service struct {
	gorm.Model
	ProfessionalID uint   `gorm:"column:professional_id;not null;index" json:"professional_id"`
	Name           string `gorm:"column:name;size:255;not null" json:"name"`
	Description    string `gorm:"column:description;type:text" json:"description"`

	// PriceCents is the price in minor currency units (centavos).
	PriceCents  int64  `gorm:"column:price_cents;not null" json:"price_cents"`
	DurationMin int    `gorm:"column:duration_min;not null" json:"duration_min"`
	SessionType string `gorm:"column:session_type;size:50" json:"session_type"`

	// OfferMinutes drives the checkout countdown for this service. Zero
	// means the page default applies.
	OfferMinutes int `gorm:"column:offer_minutes;default:0" json:"offer_minutes"`

	Professional *Professional `gorm:"foreignKey:ProfessionalID" json:"-"`
}
