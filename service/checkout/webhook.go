package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agendali/booking-server/cmd/models"
	"github.com/agendali/booking-server/service/gateway"
	"github.com/agendali/booking-server/service/metrics"
	"github.com/rs/zerolog/log"
)

// WebhookHandler receives gateway payment events. This is the primary
// confirmation mechanism; the per-session poll loop is only the UI
// fallback. A client closing its checkout never stops events from landing
// here, since money may already have moved.
type WebhookHandler struct {
	controller *Controller
	secret     []byte
}

func NewWebhookHandler(controller *Controller, secret string) *WebhookHandler {
	return &WebhookHandler{controller: controller, secret: []byte(secret)}
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	} `json:"data"`
}

// HandleWebhook verifies the HMAC signature and applies the reported
// status to the ledger.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-Signature")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expectedMAC)) {
		metrics.WebhookEvents.WithLabelValues("bad_signature").Inc()
		log.Warn().Msg("webhook with invalid signature rejected")
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookEvents.WithLabelValues("bad_payload").Inc()
		http.Error(w, "Error parsing webhook payload", http.StatusBadRequest)
		return
	}

	status := mapWebhookStatus(payload.Data.Status)
	if err := h.controller.ApplyGatewayStatus(r.Context(), payload.Data.PaymentID, status); err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("payment_id", payload.Data.PaymentID).Msg("applying webhook status")
		// 200 anyway: the gateway should not redeliver what we cannot use.
		w.WriteHeader(http.StatusOK)
		return
	}

	metrics.WebhookEvents.WithLabelValues("ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func mapWebhookStatus(s string) gateway.Status {
	switch s {
	case "approved":
		return gateway.StatusApproved
	case "rejected":
		return gateway.StatusRejected
	case "cancelled":
		return gateway.StatusCancelled
	case "failed", "charged_back":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

// ApplyGatewayStatus lands a gateway-reported status on the ledger,
// independent of any live session. Whichever of webhook and poller wins the
// pending->approved transition runs fulfillment; the other sees a no-op.
func (c *Controller) ApplyGatewayStatus(ctx context.Context, paymentID string, status gateway.Status) error {
	if !status.Terminal() {
		return nil
	}

	tx, err := c.ledger.FindByGatewayPayment(paymentID)
	if err != nil {
		return fmt.Errorf("checkout: unknown gateway payment %s: %w", paymentID, err)
	}

	sess, hasSession := c.SessionForTransaction(tx.ID)

	if status != gateway.StatusApproved {
		changed, err := c.ledger.MarkRejected(tx.ID)
		if err != nil {
			return err
		}
		if changed {
			c.releaseHoldForTransaction(tx, sess, hasSession)
			if hasSession {
				c.setState(sess, StateRejected, "payment was "+string(status))
			}
		}
		return nil
	}

	changed, err := c.ledger.MarkApproved(tx.ID)
	if err != nil {
		return err
	}
	if !changed {
		// Someone else (poller or an earlier delivery) already landed the
		// transition and drove the session; touching it again could undo a
		// later state.
		return nil
	}
	if hasSession {
		c.setState(sess, StateApproved, "")
	}

	var prof models.Professional
	if err := c.db.First(&prof, tx.ProfessionalID).Error; err != nil {
		return fmt.Errorf("checkout: loading professional for fulfillment: %w", err)
	}
	var svc models.Service
	if err := c.db.First(&svc, tx.ServiceID).Error; err != nil {
		return fmt.Errorf("checkout: loading service for fulfillment: %w", err)
	}

	outcome, err := c.fulfiller.Fulfill(ctx, tx, &svc, &prof)
	if err != nil {
		if hasSession {
			c.setState(sess, StateApproved, "payment approved but booking creation failed, support has been notified")
		}
		return err
	}
	if outcome.Degraded() {
		log.Warn().Uint("transaction_id", tx.ID).Msg("booking fulfilled with degraded side effects")
	}
	if hasSession {
		c.setState(sess, StateFulfilled, "")
	} else {
		metrics.CheckoutsTerminal.WithLabelValues(string(StateFulfilled)).Inc()
	}
	return nil
}

func (c *Controller) releaseHoldForTransaction(tx *models.Transaction, sess *Session, hasSession bool) {
	if hasSession {
		c.releaseSlotHold(sess.ID)
		return
	}
	// Delete only the hold this transaction owns; the slot may already be
	// held again by a newer checkout.
	if err := c.db.Where("transaction_id = ?", tx.ID).
		Delete(&models.SlotHold{}).Error; err != nil {
		log.Error().Err(err).Uint("transaction_id", tx.ID).Msg("releasing slot hold")
	}
}
