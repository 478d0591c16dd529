package checkout

import (
	"testing"

	"github.com/agendali/booking-server/cmd/models"
)

func TestValidateForm(t *testing.T) {
	base := func() *BeginRequest {
		return &BeginRequest{
			CustomerName:  "Ana Souza",
			CustomerEmail: "ana@example.com",
			CustomerPhone: "+55 11 91234-5678",
			CustomerTaxID: "529.982.247-25",
			Method:        models.MethodPix,
		}
	}

	tests := []struct {
		name      string
		mutate    func(*BeginRequest)
		prof      models.Professional
		wantField string
	}{
		{"valid minimal", func(r *BeginRequest) {}, models.Professional{}, ""},
		{"valid with phone and cpf", func(r *BeginRequest) {}, models.Professional{RequirePhone: true, RequireCPF: true}, ""},
		{"blank name", func(r *BeginRequest) { r.CustomerName = "  " }, models.Professional{}, "customer_name"},
		{"bad email", func(r *BeginRequest) { r.CustomerEmail = "ana@nowhere" }, models.Professional{}, "customer_email"},
		{"missing email", func(r *BeginRequest) { r.CustomerEmail = "" }, models.Professional{}, "customer_email"},
		{"phone required but missing", func(r *BeginRequest) { r.CustomerPhone = "" }, models.Professional{RequirePhone: true}, "customer_phone"},
		{"phone optional and missing", func(r *BeginRequest) { r.CustomerPhone = "" }, models.Professional{}, ""},
		{"cpf required but invalid", func(r *BeginRequest) { r.CustomerTaxID = "123.456.789-00" }, models.Professional{RequireCPF: true}, "customer_tax_id"},
		{"cpf optional and invalid", func(r *BeginRequest) { r.CustomerTaxID = "garbage" }, models.Professional{}, ""},
		{"unknown method", func(r *BeginRequest) { r.Method = "boleto" }, models.Professional{}, "method"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(req)
			err := validateForm(req, &tc.prof)

			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.wantField {
				t.Errorf("field = %s, want %s", verr.Field, tc.wantField)
			}
		})
	}
}

func TestValidateFormStripsCPFFormatting(t *testing.T) {
	req := &BeginRequest{
		CustomerName:  "Ana Souza",
		CustomerEmail: "ana@example.com",
		CustomerTaxID: "529.982.247-25",
		Method:        models.MethodCreditCard,
	}
	if err := validateForm(req, &models.Professional{RequireCPF: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.CustomerTaxID != "52998224725" {
		t.Errorf("tax id = %q, want digits only", req.CustomerTaxID)
	}
}

func TestValidCPF(t *testing.T) {
	tests := []struct {
		cpf   string
		valid bool
	}{
		{"52998224725", true},
		{"52998224724", false}, // wrong second verifier digit
		{"52998224735", false}, // wrong first verifier digit
		{"11111111111", false}, // repeated digit passes checksum but is not a document
		{"00000000000", false},
		{"5299822472", false},   // short
		{"529982247251", false}, // long
		{"", false},
	}

	for _, tc := range tests {
		if got := validCPF(tc.cpf); got != tc.valid {
			t.Errorf("validCPF(%q) = %v, want %v", tc.cpf, got, tc.valid)
		}
	}
}
