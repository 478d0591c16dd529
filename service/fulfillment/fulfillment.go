package fulfillment

import (
	"context"
	"fmt"
	"strings"

	"github.com/agendali/booking-server/cmd/models"
	"github.com/agendali/booking-server/service/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CalendarSyncer mirrors the appointment into the professional's calendar.
type CalendarSyncer interface {
	SyncAppointment(ctx context.Context, professionalID, appointmentID uint) (string, error)
}

// Notifier delivers the booking confirmation.
type Notifier interface {
	SendBookingConfirmation(ctx context.Context, b notify.Booking) error
}

// StepResult is one fulfillment step's outcome.
type StepResult struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
	OK   bool   `json:"ok"`
}

// Outcome is the full result of fulfilling one approved payment. Steps
// after the first may fail while the booking still stands ("paid but
// degraded"), so callers get the per-step record rather than a single error.
type Outcome struct {
	Appointment *models.Appointment
	AccessToken string
	Steps       []StepResult
}

// Degraded reports whether any non-fatal step failed.
func (o *Outcome) Degraded() bool {
	for _, s := range o.Steps {
		if !s.OK {
			return true
		}
	}
	return false
}

type step struct {
	name  string
	fatal bool
	run   func(ctx context.Context) error
}

// Orchestrator turns an approved transaction into the real-world artifacts
// of a confirmed booking. Steps run strictly in order; only the appointment
// itself is fatal.
type Orchestrator struct {
	db          *gorm.DB
	calendar    CalendarSyncer
	notifier    Notifier
	roomBaseURL string
}

func NewOrchestrator(db *gorm.DB, cal CalendarSyncer, notifier Notifier, roomBaseURL string) *Orchestrator {
	return &Orchestrator{db: db, calendar: cal, notifier: notifier, roomBaseURL: roomBaseURL}
}

// Fulfill must be called exactly once per transaction, by whichever caller
// won the ledger's pending->approved transition.
func (o *Orchestrator) Fulfill(ctx context.Context, tx *models.Transaction, svc *models.Service, prof *models.Professional) (*Outcome, error) {
	outcome := &Outcome{}

	// The room code exists before any external integration so the customer
	// always has a usable link.
	roomCode := newRoomCode()
	appointment := &models.Appointment{
		ProfessionalID: prof.ID,
		CustomerName:   tx.CustomerName,
		CustomerEmail:  tx.CustomerEmail,
		CustomerPhone:  tx.CustomerPhone,
		ScheduledAt:    tx.ScheduledAt,
		DurationMin:    svc.DurationMin,
		SessionType:    svc.SessionType,
		Status:         "confirmed",
		PaymentStatus:  "paid",
		PaymentMethod:  tx.Method,
		AmountCents:    tx.AmountCents,
		RoomCode:       roomCode,
		RoomLink:       fmt.Sprintf("%s/%s", strings.TrimRight(o.roomBaseURL, "/"), roomCode),
	}

	steps := []step{
		{
			name:  "appointment",
			fatal: true,
			run: func(ctx context.Context) error {
				if err := o.db.Create(appointment).Error; err != nil {
					return fmt.Errorf("creating appointment: %w", err)
				}
				outcome.Appointment = appointment
				// The hold served its purpose once the booking is permanent.
				// Scoped to this transaction so a neighbour's fresh hold on
				// the slot survives.
				o.db.Where("transaction_id = ?", tx.ID).
					Delete(&models.SlotHold{})
				return nil
			},
		},
		{
			name: "access_token",
			run: func(ctx context.Context) error {
				token, err := o.createAccessToken(appointment)
				if err != nil {
					return err
				}
				outcome.AccessToken = token
				return nil
			},
		},
		{
			name: "calendar",
			run: func(ctx context.Context) error {
				meetLink, err := o.calendar.SyncAppointment(ctx, prof.ID, appointment.ID)
				if err != nil {
					return fmt.Errorf("calendar sync: %w", err)
				}
				if meetLink == "" {
					return nil
				}
				if err := o.db.Model(appointment).Update("room_link", meetLink).Error; err != nil {
					return fmt.Errorf("saving meet link: %w", err)
				}
				appointment.RoomLink = meetLink
				return nil
			},
		},
		{
			name: "notify",
			run: func(ctx context.Context) error {
				return o.notifier.SendBookingConfirmation(ctx, notify.Booking{
					Professional: prof,
					Appointment:  appointment,
					AccessToken:  outcome.AccessToken,
				})
			},
		},
	}

	for _, s := range steps {
		err := s.run(ctx)
		outcome.Steps = append(outcome.Steps, StepResult{Name: s.name, Err: err, OK: err == nil})

		if err == nil {
			continue
		}
		if s.fatal {
			// Money was captured but no booking exists. This must be loud:
			// it is the one reconciliation gap the pipeline cannot absorb.
			log.Error().Err(err).Uint("transaction_id", tx.ID).
				Msg("fulfillment failed after payment approval, manual reconciliation required")
			return outcome, fmt.Errorf("fulfillment: %s step: %w", s.name, err)
		}
		log.Warn().Err(err).Str("step", s.name).Uint("transaction_id", tx.ID).
			Msg("non-critical fulfillment step failed, booking stands")
	}

	return outcome, nil
}

func (o *Orchestrator) createAccessToken(appointment *models.Appointment) (string, error) {
	raw := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing access token: %w", err)
	}

	token := models.AccessToken{
		AppointmentID: appointment.ID,
		CustomerEmail: appointment.CustomerEmail,
		TokenHash:     string(hash),
	}
	if err := o.db.Create(&token).Error; err != nil {
		return "", fmt.Errorf("creating access token: %w", err)
	}
	return raw, nil
}

func newRoomCode() string {
	return "sala-" + strings.Split(uuid.NewString(), "-")[0]
}
