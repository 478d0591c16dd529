package models

import (
	"time"

	"gorm.io/gorm"
)

type Appointment struct {
	gorm.Model
	ProfessionalID uint `gorm:"column:professional_id;not null;index" json:"professional_id"`

	CustomerName  string `gorm:"column:customer_name;size:255;not null" json:"customer_name"`
	CustomerEmail string `gorm:"column:customer_email;size:255;not null" json:"customer_email"`
	CustomerPhone string `gorm:"column:customer_phone;size:20" json:"customer_phone,omitempty"`

	ScheduledAt time.Time `gorm:"column:scheduled_at;not null" json:"scheduled_at"`
	DurationMin int       `gorm:"column:duration_min;not null" json:"duration_min"`
	SessionType string    `gorm:"column:session_type;size:50" json:"session_type"`

	Status        string `gorm:"column:status;size:20;not null;default:confirmed" json:"status"`
	PaymentStatus string `gorm:"column:payment_status;size:20;not null;default:paid" json:"payment_status"`
	PaymentMethod string `gorm:"column:payment_method;size:20;not null" json:"payment_method"`
	AmountCents   int64  `gorm:"column:amount_cents;not null" json:"amount_cents"`

	// Virtual room. RoomCode is always generated locally before any
	// external integration runs; RoomLink may later be overwritten by the
	// calendar-sync meet link.
	RoomCode string `gorm:"column:room_code;size:64;not null" json:"room_code"`
	RoomLink string `gorm:"column:room_link;size:512;not null" json:"room_link"`

	Professional *Professional `gorm:"foreignKey:ProfessionalID" json:"professional,omitempty"`
}

// AccessToken lets a customer reschedule an appointment without an account.
// The raw token is sent by email once and only its bcrypt hash is stored.
type AccessToken struct {
	gorm.Model
	AppointmentID uint       `gorm:"column:appointment_id;not null;index" json:"appointment_id"`
	CustomerEmail string     `gorm:"column:customer_email;size:255;not null" json:"customer_email"`
	TokenHash     string     `gorm:"column:token_hash;size:255;not null" json:"-"`
	UsedAt        *time.Time `gorm:"column:used_at" json:"used_at,omitempty"`
}

// SlotHold is a short-lived reservation on a professional's time slot,
// acquired when a charge is requested and released when the payment fails
// or times out. The unique index is what stops two customers from paying
// for the same slot. Releases must free the index immediately, so holds
// are deleted for real rather than soft-deleted.
type SlotHold struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ProfessionalID uint      `gorm:"column:professional_id;not null;uniqueIndex:idx_hold_slot" json:"professional_id"`
	ScheduledAt    time.Time `gorm:"column:scheduled_at;not null;uniqueIndex:idx_hold_slot" json:"scheduled_at"`
	SessionID      string    `gorm:"column:session_id;size:64;not null;index" json:"session_id"`
	TransactionID  uint      `gorm:"column:transaction_id;not null;index" json:"transaction_id"`
	ExpiresAt      time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
}
