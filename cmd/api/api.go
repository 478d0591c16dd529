package api

import (
	"net/http"
	"time"

	"github.com/agendali/booking-server/cmd/utils"
	"github.com/agendali/booking-server/config"
	"github.com/agendali/booking-server/service/appointment"
	"github.com/agendali/booking-server/service/calendar"
	"github.com/agendali/booking-server/service/checkout"
	"github.com/agendali/booking-server/service/fulfillment"
	"github.com/agendali/booking-server/service/gateway"
	"github.com/agendali/booking-server/service/ledger"
	"github.com/agendali/booking-server/service/notify"
	"github.com/agendali/booking-server/service/offer"
	"github.com/agendali/booking-server/service/ws"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
	cfg     config.App
}

func NewApiServer(address string, db *gorm.DB, cfg config.App) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		cfg:     cfg,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	hub := ws.NewHub()
	go hub.Run()

	notifier := notify.NewNotifier(s.db, notify.SMTPConfig{
		Host: s.cfg.SMTPHost,
		Port: s.cfg.SMTPPort,
		User: s.cfg.SMTPUser,
		Pass: s.cfg.SMTPPass,
	})

	orchestrator := fulfillment.NewOrchestrator(
		s.db,
		calendar.NewClient(s.cfg.CalendarSyncURL),
		notifier,
		s.cfg.RoomBaseURL,
	)

	gateways := gateway.Selector{
		MercadoPago: gateway.NewMercadoPago(s.cfg.MercadoPagoBaseURL),
		Simulated:   gateway.NewSimulated(time.Duration(s.cfg.SimApproveSec) * time.Second),
	}

	controller := checkout.NewController(s.db, gateways, orchestrator, hub)
	controller.SetPolling(time.Duration(s.cfg.PollIntervalSec)*time.Second, s.cfg.PollMaxAttempts)
	controller.SetHoldTTL(time.Duration(s.cfg.SlotHoldMinutes) * time.Minute)

	limiter := utils.NewRateLimiter(float64(s.cfg.CheckoutRPS), s.cfg.CheckoutBurst)

	checkoutHandler := checkout.NewHandler(controller, s.cfg.WebhookSecret, limiter)
	checkoutHandler.RegisterRoutes(subrouter)

	transactionHandler := ledger.NewTransactionHandler(s.db)
	transactionHandler.RegisterRoutes(subrouter)

	appointmentHandler := appointment.NewAppointmentHandler(s.db)
	appointmentHandler.RegisterRoutes(subrouter)

	deviceHandler := notify.NewDeviceHandler(s.db)
	deviceHandler.RegisterRoutes(subrouter)

	offerHandler := offer.NewTimerHandler(offer.NewTimer(offer.NewMemoryStore()), s.cfg.OfferMinutes)
	offerHandler.RegisterRoutes(subrouter)

	wsHandler := ws.NewHandler(hub)
	wsHandler.RegisterRoutes(router)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Visitor-ID"}),
	)

	log.Info().Str("address", s.address).Msg("server running")
	return http.ListenAndServe(s.address, cors(router))
}
