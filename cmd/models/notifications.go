package models

import (
	"time"

	"gorm.io/gorm"
)

// Device is an Expo push token registered by a professional's dashboard app.
type Device struct {
	gorm.Model
	Token          string `gorm:"not null;uniqueIndex:idx_token_professional" json:"token"`
	ProfessionalID uint   `gorm:"not null;index;uniqueIndex:idx_token_professional" json:"professional_id"`
	DeviceType     string `gorm:"type:varchar(50)" json:"device_type"`
	DeviceName     string `gorm:"type:varchar(100)" json:"device_name,omitempty"`
}

type NotificationHistory struct {
	gorm.Model
	ProfessionalID uint      `gorm:"index" json:"professional_id"`
	Channel        string    `gorm:"type:varchar(20)" json:"channel"` // email, push
	Recipient      string    `gorm:"size:255" json:"recipient"`
	Title          string    `json:"title"`
	Body           string    `gorm:"type:text" json:"body"`
	Status         string    `gorm:"type:varchar(20)" json:"status"` // sent, failed
	SentAt         time.Time `json:"sent_at"`
}
