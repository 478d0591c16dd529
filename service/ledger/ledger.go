package ledger

import (
	"errors"
	"fmt"

	"github.com/agendali/booking-server/cmd/models"
	"gorm.io/gorm"
)

// ErrStatusFinal is returned when a transition would move a transaction
// between terminal statuses or back to pending.
var ErrStatusFinal = errors.New("ledger: transaction already has a terminal status")

// Ledger is the single source of truth for payment status. Rows are
// append-only: the only mutation it ever performs is the one-way status
// flip pending -> approved|rejected.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Create inserts a pending transaction. Callers must do this strictly
// before contacting any gateway so a gateway failure still leaves an
// auditable record.
func (l *Ledger) Create(tx *models.Transaction) error {
	tx.PaymentStatus = models.PaymentPending
	if err := l.db.Create(tx).Error; err != nil {
		return fmt.Errorf("ledger: creating transaction: %w", err)
	}
	return nil
}

// SetGatewayPayment records the gateway-assigned payment id and, for PIX,
// the QR payload. Amount, payer and method are never touched.
func (l *Ledger) SetGatewayPayment(id uint, paymentID, qrImage, qrCopyPaste string) error {
	return l.db.Model(&models.Transaction{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway_payment_id": paymentID,
			"pix_qr_image":       qrImage,
			"pix_copy_paste":     qrCopyPaste,
		}).Error
}

// MarkApproved flips a pending transaction to approved. It reports whether
// this call performed the transition: repeating the same terminal status is
// a no-op and returns false, while crossing terminal statuses is an error.
func (l *Ledger) MarkApproved(id uint) (bool, error) {
	return l.markTerminal(id, models.PaymentApproved)
}

// MarkRejected flips a pending transaction to rejected, with the same
// idempotency contract as MarkApproved.
func (l *Ledger) MarkRejected(id uint) (bool, error) {
	return l.markTerminal(id, models.PaymentRejected)
}

func (l *Ledger) markTerminal(id uint, status string) (bool, error) {
	res := l.db.Model(&models.Transaction{}).
		Where("id = ? AND payment_status = ?", id, models.PaymentPending).
		Update("payment_status", status)
	if res.Error != nil {
		return false, fmt.Errorf("ledger: marking transaction %d %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var current models.Transaction
	if err := l.db.Select("payment_status").First(&current, id).Error; err != nil {
		return false, fmt.Errorf("ledger: transaction %d not found: %w", id, err)
	}
	if current.PaymentStatus == status {
		// Same terminal status twice: a no-op, not an error.
		return false, nil
	}
	return false, fmt.Errorf("%w: %d is %s, wanted %s", ErrStatusFinal, id, current.PaymentStatus, status)
}

// Get loads one transaction.
func (l *Ledger) Get(id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := l.db.First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindByGatewayPayment resolves the transaction a gateway webhook refers to.
func (l *Ledger) FindByGatewayPayment(paymentID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := l.db.Where("gateway_payment_id = ?", paymentID).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}
