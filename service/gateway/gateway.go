package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/agendali/booking-server/cmd/models"
)

// Status is the lifecycle state of a charge as reported by a provider.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status will never change again.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Provider identifies a concrete payment processor. The set is closed:
// adding one means adding a case to ForProfessional.
type Provider string

const (
	ProviderMercadoPago Provider = Provider(models.GatewayMercadoPago)
	ProviderSimulated   Provider = Provider(models.GatewaySimulated)
)

var ErrChargeFailed = errors.New("gateway: charge could not be created")

// Payer is the customer data a provider needs to create a charge.
type Payer struct {
	Name  string
	Email string
	TaxID string
}

// ChargeRequest describes a charge in minor currency units. Providers must
// never do floating-point money arithmetic; conversion to the gateway's
// decimal wire format happens only at the HTTP boundary.
type ChargeRequest struct {
	AmountCents int64
	Description string
	// Reference ties the charge to the caller's transaction so a retried
	// request reuses the same idempotency key.
	Reference string
	Payer     Payer
}

// Card carries tokenized card data for the synchronous card path.
type Card struct {
	Token          string
	Brand          string
	InstallmentQty int
}

type PixCharge struct {
	PaymentID   string
	QRImage     string
	QRCopyPaste string
}

type CardCharge struct {
	PaymentID string
	Approved  bool
}

// PaymentGateway is the uniform surface over heterogeneous providers.
// Implementations are stateless per call.
type PaymentGateway interface {
	Name() Provider
	CreatePixCharge(ctx context.Context, req ChargeRequest) (*PixCharge, error)
	CreateCardCharge(ctx context.Context, req ChargeRequest, card Card) (*CardCharge, error)
	CheckStatus(ctx context.Context, paymentID string) (Status, error)
}

// Selector picks the gateway for a professional's persisted settings.
type Selector struct {
	MercadoPago *MercadoPago
	Simulated   *Simulated
}

// ForProfessional returns the configured provider, falling back to the
// simulated gateway when no credentials exist. The simulated path is for
// demo/onboarding and is clearly labeled so it can never be mistaken for
// settled money.
func (s Selector) ForProfessional(p *models.Professional) (PaymentGateway, error) {
	if p.GatewayToken == "" {
		return s.Simulated, nil
	}
	switch Provider(p.Gateway) {
	case ProviderMercadoPago:
		return s.MercadoPago.WithToken(p.GatewayToken), nil
	case ProviderSimulated:
		return s.Simulated, nil
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q", p.Gateway)
	}
}

// centsToDecimal renders minor units as the two-decimal major-unit string
// required by provider APIs. Display/wire use only.
func centsToDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
