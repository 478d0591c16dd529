package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment statuses a transaction moves through. Transitions are strictly
// pending -> approved or pending -> rejected; a terminal status never changes.
const (
	PaymentPending  = "pending"
	PaymentApproved = "approved"
	PaymentRejected = "rejected"
)

// Payment methods accepted at checkout.
const (
	MethodPix        = "pix"
	MethodCreditCard = "credit_card"
)

// Transaction is one payment attempt. Rows are append-only from the
// application's perspective: amount, payer and method are immutable after
// creation and rows are never deleted.
type Transaction struct {
	gorm.Model
	ProfessionalID uint `gorm:"column:professional_id;not null;index" json:"professional_id"`
	ServiceID      uint `gorm:"column:service_id;not null" json:"service_id"`

	CustomerName  string `gorm:"column:customer_name;size:255;not null" json:"customer_name"`
	CustomerEmail string `gorm:"column:customer_email;size:255;not null" json:"customer_email"`
	CustomerPhone string `gorm:"column:customer_phone;size:20" json:"customer_phone,omitempty"`
	CustomerTaxID string `gorm:"column:customer_tax_id;size:14" json:"customer_tax_id,omitempty"`

	// AmountCents is the charged amount in minor currency units.
	AmountCents   int64  `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Method        string `gorm:"column:method;size:20;not null" json:"method"`
	PaymentStatus string `gorm:"column:payment_status;size:20;not null;default:pending" json:"payment_status"`

	Gateway          string `gorm:"column:gateway;size:50;not null" json:"gateway"`
	GatewayPaymentID string `gorm:"column:gateway_payment_id;size:255;index" json:"gateway_payment_id,omitempty"`

	// PIX charge payload, present for the pix method only.
	PixQRImage   string `gorm:"column:pix_qr_image;type:text" json:"pix_qr_image,omitempty"`
	PixCopyPaste string `gorm:"column:pix_copy_paste;type:text" json:"pix_copy_paste,omitempty"`

	// ScheduledAt carries the slot the customer picked so a webhook can
	// fulfill the booking even when the checkout session is gone.
	ScheduledAt time.Time `gorm:"column:scheduled_at;not null" json:"scheduled_at"`

	Professional *Professional `gorm:"foreignKey:ProfessionalID" json:"professional,omitempty"`
	Service      *Service      `gorm:"foreignKey:ServiceID" json:"service,omitempty"`
}
