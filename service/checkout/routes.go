package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agendali/booking-server/cmd/utils"
	"github.com/agendali/booking-server/service/gateway"
	"github.com/gorilla/mux"
)

type Handler struct {
	controller *Controller
	webhook    *WebhookHandler
	limiter    *utils.RateLimiter
}

func NewHandler(controller *Controller, webhookSecret string, limiter *utils.RateLimiter) *Handler {
	return &Handler{
		controller: controller,
		webhook:    NewWebhookHandler(controller, webhookSecret),
		limiter:    limiter,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/checkout", h.limiter.Middleware(h.BeginCheckout)).Methods("POST")
	router.HandleFunc("/checkout/{id}", h.GetCheckout).Methods("GET")
	router.HandleFunc("/checkout/{id}", h.CancelCheckout).Methods("DELETE")
	router.HandleFunc("/payments/webhook", h.webhook.HandleWebhook).Methods("POST")
}

// BeginCheckout takes the submitted form through the full pipeline and
// returns the session the page should start watching.
func (h *Handler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.controller.Begin(r.Context(), &req)
	if err != nil {
		var validationErr *ValidationError
		switch {
		case errors.As(err, &validationErr):
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": validationErr.Message,
				"field": validationErr.Field,
			})
		case errors.Is(err, ErrSlotHeld):
			respondJSON(w, http.StatusConflict, map[string]string{
				"error": "this time slot is being paid for by someone else, try again in a few minutes",
			})
		case errors.Is(err, gateway.ErrChargeFailed):
			respondJSON(w, http.StatusBadGateway, map[string]string{
				"error": "payment could not be created, please try again",
			})
		default:
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "could not start checkout",
			})
		}
		return
	}

	respondJSON(w, http.StatusCreated, snap)
}

// GetCheckout is the polling fallback for pages without a websocket.
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.controller.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Checkout session not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// CancelCheckout stops the poll loop when the customer leaves the page.
// It does not and must not cancel the payment itself.
func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	if !h.controller.Cancel(mux.Vars(r)["id"]) {
		http.Error(w, "Checkout session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
