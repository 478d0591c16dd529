package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MercadoPago talks to the Mercado Pago payments API.
type MercadoPago struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMercadoPago(baseURL string) *MercadoPago {
	return &MercadoPago{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithToken returns a copy bound to one professional's access token.
func (m *MercadoPago) WithToken(token string) *MercadoPago {
	return &MercadoPago{baseURL: m.baseURL, token: token, client: m.client}
}

func (m *MercadoPago) Name() Provider { return ProviderMercadoPago }

type mpPaymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (m *MercadoPago) CreatePixCharge(ctx context.Context, req ChargeRequest) (*PixCharge, error) {
	payload := map[string]interface{}{
		// Major units with two decimals at the wire boundary only.
		"transaction_amount": json.Number(centsToDecimal(req.AmountCents)),
		"description":        req.Description,
		"payment_method_id":  "pix",
		"payer": map[string]interface{}{
			"email": req.Payer.Email,
			"identification": map[string]string{
				"type":   "CPF",
				"number": req.Payer.TaxID,
			},
		},
	}

	var resp mpPaymentResponse
	if err := m.post(ctx, "/v1/payments", idempotencyKey(req), payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}
	if resp.ID.String() == "" || resp.PointOfInteraction.TransactionData.QRCode == "" {
		return nil, fmt.Errorf("%w: incomplete pix payload", ErrChargeFailed)
	}

	return &PixCharge{
		PaymentID:   resp.ID.String(),
		QRImage:     resp.PointOfInteraction.TransactionData.QRCodeBase64,
		QRCopyPaste: resp.PointOfInteraction.TransactionData.QRCode,
	}, nil
}

func (m *MercadoPago) CreateCardCharge(ctx context.Context, req ChargeRequest, card Card) (*CardCharge, error) {
	installments := card.InstallmentQty
	if installments < 1 {
		installments = 1
	}
	payload := map[string]interface{}{
		"transaction_amount": json.Number(centsToDecimal(req.AmountCents)),
		"description":        req.Description,
		"token":              card.Token,
		"payment_method_id":  card.Brand,
		"installments":       installments,
		"payer": map[string]interface{}{
			"email": req.Payer.Email,
		},
	}

	var resp mpPaymentResponse
	if err := m.post(ctx, "/v1/payments", idempotencyKey(req), payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}

	return &CardCharge{
		PaymentID: resp.ID.String(),
		Approved:  resp.Status == "approved",
	}, nil
}

func (m *MercadoPago) CheckStatus(ctx context.Context, paymentID string) (Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return StatusPending, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.token)

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return StatusPending, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return StatusPending, fmt.Errorf("mercadopago: status check returned %d", httpResp.StatusCode)
	}

	var resp mpPaymentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return StatusPending, err
	}
	return mapMercadoPagoStatus(resp.Status), nil
}

func mapMercadoPagoStatus(s string) Status {
	switch s {
	case "approved":
		return StatusApproved
	case "rejected":
		return StatusRejected
	case "cancelled":
		return StatusCancelled
	case "charged_back", "refunded":
		return StatusFailed
	default:
		// pending, in_process, authorized, ...
		return StatusPending
	}
}

// idempotencyKey prefers the caller's transaction reference so a retried
// request maps onto the same charge at the provider. A random key would
// make every retry a fresh charge.
func idempotencyKey(req ChargeRequest) string {
	if req.Reference != "" {
		return req.Reference
	}
	return uuid.NewString()
}

func (m *MercadoPago) post(ctx context.Context, path string, idemKey string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", idemKey)

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(httpResp.Body).Decode(&apiErr)
		log.Warn().Int("status", httpResp.StatusCode).Str("message", apiErr.Message).Msg("mercadopago request rejected")
		return fmt.Errorf("mercadopago: %d %s", httpResp.StatusCode, apiErr.Message)
	}

	return json.NewDecoder(httpResp.Body).Decode(out)
}
