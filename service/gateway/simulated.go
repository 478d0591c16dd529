package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulated emulates a provider for professionals without gateway
// credentials (demo/onboarding). Charges are created locally and approved
// after a fixed delay. Nothing here represents settled money.
type Simulated struct {
	approveAfter time.Duration
	now          func() time.Time

	mu       sync.Mutex
	charges  map[string]time.Time
	rejected map[string]bool
}

func NewSimulated(approveAfter time.Duration) *Simulated {
	return &Simulated{
		approveAfter: approveAfter,
		now:          time.Now,
		charges:      make(map[string]time.Time),
		rejected:     make(map[string]bool),
	}
}

// Reject flips a simulated charge to rejected so integrators can exercise
// the decline flow without waiting out the approval delay.
func (s *Simulated) Reject(paymentID string) {
	s.mu.Lock()
	s.rejected[paymentID] = true
	s.mu.Unlock()
}

func (s *Simulated) Name() Provider { return ProviderSimulated }

func (s *Simulated) CreatePixCharge(ctx context.Context, req ChargeRequest) (*PixCharge, error) {
	id := "sim_" + uuid.NewString()

	s.mu.Lock()
	s.charges[id] = s.now()
	s.mu.Unlock()

	code := syntheticPixCode(id, req.AmountCents)
	return &PixCharge{
		PaymentID:   id,
		QRImage:     base64.StdEncoding.EncodeToString([]byte(code)),
		QRCopyPaste: code,
	}, nil
}

// DeclinedCardToken is a magic token that makes the simulated gateway
// decline a card charge, so integrators can exercise the decline path.
const DeclinedCardToken = "tok_declined"

func (s *Simulated) CreateCardCharge(ctx context.Context, req ChargeRequest, card Card) (*CardCharge, error) {
	id := "sim_" + uuid.NewString()

	s.mu.Lock()
	s.charges[id] = s.now()
	s.mu.Unlock()

	return &CardCharge{PaymentID: id, Approved: card.Token != DeclinedCardToken}, nil
}

func (s *Simulated) CheckStatus(ctx context.Context, paymentID string) (Status, error) {
	s.mu.Lock()
	created, ok := s.charges[paymentID]
	rejected := s.rejected[paymentID]
	s.mu.Unlock()

	if !ok {
		return StatusFailed, fmt.Errorf("simulated: unknown payment %s", paymentID)
	}
	if rejected {
		return StatusRejected, nil
	}
	if s.now().Sub(created) >= s.approveAfter {
		return StatusApproved, nil
	}
	return StatusPending, nil
}

// syntheticPixCode builds an EMV-looking copy-paste string. It is not a
// valid BR Code and banks will not accept it.
func syntheticPixCode(id string, amountCents int64) string {
	var b strings.Builder
	b.WriteString("00020126580014br.gov.bcb.pix.simulado")
	b.WriteString(strings.ReplaceAll(id, "-", ""))
	b.WriteString("54")
	b.WriteString(centsToDecimal(amountCents))
	b.WriteString("5802BR6304SIMU")
	return b.String()
}
