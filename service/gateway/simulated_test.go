package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/agendali/booking-server/cmd/models"
)

func testProfessional(gatewayName, token string) *models.Professional {
	return &models.Professional{Gateway: gatewayName, GatewayToken: token}
}

func TestSimulatedPixApprovesAfterDelay(t *testing.T) {
	now := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	sim := NewSimulated(20 * time.Second)
	sim.now = func() time.Time { return now }

	pix, err := sim.CreatePixCharge(context.Background(), ChargeRequest{
		AmountCents: 15000,
		Description: "Consulta",
		Payer:       Payer{Name: "Ana Souza", Email: "ana@example.com"},
	})
	if err != nil {
		t.Fatalf("create pix charge: %v", err)
	}
	if pix.PaymentID == "" || pix.QRCopyPaste == "" || pix.QRImage == "" {
		t.Fatalf("incomplete pix charge: %+v", pix)
	}

	status, err := sim.CheckStatus(context.Background(), pix.PaymentID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if status != StatusPending {
		t.Errorf("status before delay = %s, want pending", status)
	}

	now = now.Add(25 * time.Second)
	status, err = sim.CheckStatus(context.Background(), pix.PaymentID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if status != StatusApproved {
		t.Errorf("status after delay = %s, want approved", status)
	}
}

func TestSimulatedCardApprovesSynchronously(t *testing.T) {
	sim := NewSimulated(time.Minute)

	charge, err := sim.CreateCardCharge(context.Background(), ChargeRequest{AmountCents: 5000}, Card{Token: "tok_test"})
	if err != nil {
		t.Fatalf("create card charge: %v", err)
	}
	if !charge.Approved {
		t.Error("simulated card charge should approve")
	}

	declined, err := sim.CreateCardCharge(context.Background(), ChargeRequest{AmountCents: 5000}, Card{Token: DeclinedCardToken})
	if err != nil {
		t.Fatalf("create declined charge: %v", err)
	}
	if declined.Approved {
		t.Error("magic decline token should decline")
	}
}

func TestSimulatedReject(t *testing.T) {
	sim := NewSimulated(0)

	pix, err := sim.CreatePixCharge(context.Background(), ChargeRequest{AmountCents: 1000})
	if err != nil {
		t.Fatalf("create pix charge: %v", err)
	}

	sim.Reject(pix.PaymentID)
	status, err := sim.CheckStatus(context.Background(), pix.PaymentID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if status != StatusRejected {
		t.Errorf("status = %s, want rejected", status)
	}
}

func TestSimulatedUnknownPayment(t *testing.T) {
	sim := NewSimulated(time.Minute)

	status, err := sim.CheckStatus(context.Background(), "sim_missing")
	if err == nil {
		t.Fatal("expected error for unknown payment")
	}
	if status != StatusFailed {
		t.Errorf("status = %s, want failed", status)
	}
}

func TestSelectorFallsBackToSimulated(t *testing.T) {
	sel := Selector{
		MercadoPago: NewMercadoPago("https://api.example.com"),
		Simulated:   NewSimulated(time.Minute),
	}

	tests := []struct {
		name     string
		gateway  string
		token    string
		provider Provider
	}{
		{"credentials present", "mercadopago", "APP_USR-token", ProviderMercadoPago},
		{"no credentials", "mercadopago", "", ProviderSimulated},
		{"nothing configured", "", "", ProviderSimulated},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw, err := sel.ForProfessional(testProfessional(tc.gateway, tc.token))
			if err != nil {
				t.Fatalf("selecting gateway: %v", err)
			}
			if gw.Name() != tc.provider {
				t.Errorf("provider = %s, want %s", gw.Name(), tc.provider)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusApproved, StatusRejected, StatusCancelled, StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusPending.Terminal() {
		t.Error("pending should not be terminal")
	}
}

func TestCentsToDecimal(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{15000, "150.00"},
		{15099, "150.99"},
		{-250, "-2.50"},
	}
	for _, tc := range tests {
		if got := centsToDecimal(tc.cents); got != tc.want {
			t.Errorf("centsToDecimal(%d) = %q, want %q", tc.cents, got, tc.want)
		}
	}
}
