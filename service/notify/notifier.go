package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/agendali/booking-server/cmd/models"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// SMTPConfig carries the mail relay settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
}

// Notifier dispatches booking notifications over the channels a
// professional enabled. Every send is best-effort: failures are logged and
// recorded in history, never propagated as fatal.
type Notifier struct {
	db         *gorm.DB
	smtp       SMTPConfig
	expoClient *expo.PushClient
}

func NewNotifier(db *gorm.DB, smtp SMTPConfig) *Notifier {
	return &Notifier{
		db:         db,
		smtp:       smtp,
		expoClient: expo.NewPushClient(nil),
	}
}

// Booking is everything a confirmation message needs.
type Booking struct {
	Professional *models.Professional
	Appointment  *models.Appointment
	// AccessToken is the raw reschedule token, empty when its creation
	// failed upstream.
	AccessToken string
}

// SendBookingConfirmation notifies the customer and the professional.
// Returns the first error for the caller's log; the booking stands either way.
func (n *Notifier) SendBookingConfirmation(ctx context.Context, b Booking) error {
	var firstErr error

	if err := n.emailCustomer(b); err != nil {
		firstErr = err
		log.Error().Err(err).Uint("appointment_id", b.Appointment.ID).Msg("customer email failed")
	}

	for _, channel := range b.Professional.NotifyChannels {
		var err error
		switch channel {
		case "email":
			err = n.emailProfessional(b)
		case "push":
			err = n.pushProfessional(b)
		default:
			log.Warn().Str("channel", channel).Msg("unsupported notification channel, skipping")
			continue
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Error().Err(err).Str("channel", channel).
				Uint("appointment_id", b.Appointment.ID).Msg("professional notification failed")
		}
	}

	return firstErr
}

func (n *Notifier) emailCustomer(b Booking) error {
	appt := b.Appointment
	body := fmt.Sprintf(
		"Olá %s,\n\nSeu agendamento com %s está confirmado para %s.\nSala virtual: %s\n",
		appt.CustomerName, b.Professional.FullName,
		appt.ScheduledAt.Format("02/01/2006 15:04"), appt.RoomLink,
	)
	if b.AccessToken != "" {
		body += fmt.Sprintf("\nPara remarcar, use este código de acesso: %s\n", b.AccessToken)
	}

	err := n.sendMail(appt.CustomerEmail, "Agendamento confirmado", body)
	n.record(b.Professional.ID, "email", appt.CustomerEmail, "Agendamento confirmado", body, err)
	return err
}

func (n *Notifier) emailProfessional(b Booking) error {
	appt := b.Appointment
	subject := "Novo agendamento pago"
	body := fmt.Sprintf(
		"%s agendou %s para %s.\nContato: %s %s\nSala virtual: %s\n",
		appt.CustomerName, appt.SessionType,
		appt.ScheduledAt.Format("02/01/2006 15:04"),
		appt.CustomerEmail, appt.CustomerPhone, appt.RoomLink,
	)

	err := n.sendMail(b.Professional.Email, subject, body)
	n.record(b.Professional.ID, "email", b.Professional.Email, subject, body, err)
	return err
}

func (n *Notifier) pushProfessional(b Booking) error {
	var devices []models.Device
	if err := n.db.Where("professional_id = ?", b.Professional.ID).Find(&devices).Error; err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	var tokens []expo.ExponentPushToken
	for _, device := range devices {
		pushToken, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			log.Warn().Str("token", device.Token).Msg("invalid push token, removing")
			n.db.Where("token = ?", device.Token).Delete(&models.Device{})
			continue
		}
		tokens = append(tokens, pushToken)
	}
	if len(tokens) == 0 {
		return nil
	}

	title := "Novo agendamento"
	body := fmt.Sprintf("%s — %s", b.Appointment.CustomerName,
		b.Appointment.ScheduledAt.Format("02/01 15:04"))

	response, err := n.expoClient.Publish(&expo.PushMessage{
		To:       tokens,
		Title:    title,
		Body:     body,
		Sound:    "default",
		Priority: expo.DefaultPriority,
	})
	if err == nil {
		err = response.ValidateResponse()
	}
	n.record(b.Professional.ID, "push", "", title, body, err)
	return err
}

func (n *Notifier) sendMail(to, subject, body string) error {
	if n.smtp.Host == "" {
		return fmt.Errorf("smtp not configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.smtp.User)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(n.smtp.Host, n.smtp.Port, n.smtp.User, n.smtp.Pass)
	return d.DialAndSend(m)
}

func (n *Notifier) record(professionalID uint, channel, recipient, title, body string, sendErr error) {
	status := "sent"
	if sendErr != nil {
		status = "failed"
	}

	history := models.NotificationHistory{
		ProfessionalID: professionalID,
		Channel:        channel,
		Recipient:      recipient,
		Title:          title,
		Body:           body,
		Status:         status,
		SentAt:         time.Now(),
	}
	if err := n.db.Create(&history).Error; err != nil {
		log.Error().Err(err).Msg("creating notification history")
	}
}
