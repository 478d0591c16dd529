package checkout

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agendali/booking-server/cmd/models"
)

// ValidationError is a client-local form error; it never creates a
// transaction or reaches a gateway.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var nonDigits = regexp.MustCompile(`[^0-9]`)

func validateForm(req *BeginRequest, prof *models.Professional) error {
	if strings.TrimSpace(req.CustomerName) == "" {
		return &ValidationError{Field: "customer_name", Message: "name is required"}
	}

	if !emailPattern.MatchString(req.CustomerEmail) {
		return &ValidationError{Field: "customer_email", Message: "invalid email address"}
	}

	if prof.RequirePhone && strings.TrimSpace(req.CustomerPhone) == "" {
		return &ValidationError{Field: "customer_phone", Message: "phone is required"}
	}

	if prof.RequireCPF {
		cpf := nonDigits.ReplaceAllString(req.CustomerTaxID, "")
		if !validCPF(cpf) {
			return &ValidationError{Field: "customer_tax_id", Message: "invalid CPF"}
		}
		req.CustomerTaxID = cpf
	}

	if req.Method != models.MethodPix && req.Method != models.MethodCreditCard {
		return &ValidationError{Field: "method", Message: "unsupported payment method"}
	}

	return nil
}

// validCPF checks the two verifier digits of a Brazilian CPF. Sequences of
// a single repeated digit pass the checksum but are not valid documents.
func validCPF(cpf string) bool {
	if len(cpf) != 11 {
		return false
	}

	allSame := true
	for i := 1; i < 11; i++ {
		if cpf[i] != cpf[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}

	digit := func(upTo int) int {
		sum := 0
		for i := 0; i < upTo; i++ {
			sum += int(cpf[i]-'0') * (upTo + 1 - i)
		}
		rest := (sum * 10) % 11
		if rest == 10 {
			rest = 0
		}
		return rest
	}

	return digit(9) == int(cpf[9]-'0') && digit(10) == int(cpf[10]-'0')
}
