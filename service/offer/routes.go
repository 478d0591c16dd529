package offer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

const visitorHeader = "X-Visitor-ID"

type TimerHandler struct {
	timer          *Timer
	defaultMinutes int
}

func NewTimerHandler(timer *Timer, defaultMinutes int) *TimerHandler {
	return &TimerHandler{timer: timer, defaultMinutes: defaultMinutes}
}

func (h *TimerHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/offer/start", h.StartTimer).Methods("POST")
	router.HandleFunc("/offer/remaining", h.GetRemaining).Methods("GET")
}

func timerKey(visitorID, serviceID string) string {
	return fmt.Sprintf("%s|%s", visitorID, serviceID)
}

// StartTimer begins (or resumes) the countdown for a visitor+service pair.
func (h *TimerHandler) StartTimer(w http.ResponseWriter, r *http.Request) {
	visitorID := r.Header.Get(visitorHeader)
	if visitorID == "" {
		http.Error(w, "X-Visitor-ID header required", http.StatusBadRequest)
		return
	}

	var req struct {
		ServiceID       string `json:"service_id"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServiceID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	minutes := req.DurationMinutes
	if minutes <= 0 {
		minutes = h.defaultMinutes
	}

	key := timerKey(visitorID, req.ServiceID)
	deadline := h.timer.Start(key, time.Duration(minutes)*time.Minute)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"deadline":          deadline.UTC(),
		"remaining_seconds": h.timer.RemainingSeconds(key),
	})
}

// GetRemaining returns the current countdown value for a visitor+service.
func (h *TimerHandler) GetRemaining(w http.ResponseWriter, r *http.Request) {
	visitorID := r.Header.Get(visitorHeader)
	serviceID := r.URL.Query().Get("service_id")
	if visitorID == "" || serviceID == "" {
		http.Error(w, "X-Visitor-ID header and service_id are required", http.StatusBadRequest)
		return
	}

	remaining := h.timer.RemainingSeconds(timerKey(visitorID, serviceID))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"remaining_seconds": strconv.Itoa(remaining),
	})
}
