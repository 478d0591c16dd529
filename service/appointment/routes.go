package appointment

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/agendali/booking-server/cmd/models"
	"github.com/agendali/booking-server/cmd/utils"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AppointmentHandler struct {
	db *gorm.DB
}

func NewAppointmentHandler(db *gorm.DB) *AppointmentHandler {
	return &AppointmentHandler{db: db}
}

func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments/reschedule", h.RescheduleAppointment).Methods("POST")
	router.HandleFunc("/appointments/{id}", utils.AuthMiddleware(h.GetAppointment)).Methods("GET")
	router.HandleFunc("/appointments/professional/{professionalId}", utils.AuthMiddleware(h.GetProfessionalAppointments)).Methods("GET")
}

// GetAppointment retrieves a specific appointment by ID.
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	professionalID, err := utils.GetProfessionalIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var appointment models.Appointment
	if err := h.db.Where("id = ? AND professional_id = ?", appointmentID, professionalID).
		First(&appointment).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

// GetProfessionalAppointments retrieves all appointments for a professional.
func (h *AppointmentHandler) GetProfessionalAppointments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid professional ID", http.StatusBadRequest)
		return
	}

	callerID, err := utils.GetProfessionalIDFromContext(r)
	if err != nil || callerID != uint(professionalID) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 100

	query := h.db.Model(&models.Appointment{}).Where("professional_id = ?", professionalID)

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if date := r.URL.Query().Get("date"); date != "" {
		query = query.Where("DATE(scheduled_at) = ?", date)
	}

	var total int64
	query.Count(&total)

	var appointments []models.Appointment
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("scheduled_at DESC").Find(&appointments).Error; err != nil {
		http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appointments": appointments,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// RescheduleAppointment moves a booking to a new slot. The customer
// authenticates with the single-use access token they received by email,
// not with an account.
func (h *AppointmentHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppointmentID uint   `json:"appointment_id"`
		Email         string `json:"email"`
		Token         string `json:"token"`
		Date          string `json:"date"` // 2006-01-02
		Time          string `json:"time"` // 15:04
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	newScheduledAt, err := time.Parse("2006-01-02 15:04", req.Date+" "+req.Time)
	if err != nil {
		http.Error(w, "Invalid date or time", http.StatusBadRequest)
		return
	}

	var token models.AccessToken
	if err := h.db.Where("appointment_id = ? AND customer_email = ? AND used_at IS NULL",
		req.AppointmentID, req.Email).First(&token).Error; err != nil {
		http.Error(w, "Invalid or expired access token", http.StatusUnauthorized)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(token.TokenHash), []byte(req.Token)) != nil {
		http.Error(w, "Invalid or expired access token", http.StatusUnauthorized)
		return
	}

	tx := h.db.Begin()

	var appointment models.Appointment
	if err := tx.First(&appointment, req.AppointmentID).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	var conflicting models.Appointment
	if err := tx.Where("professional_id = ? AND scheduled_at = ? AND status != ? AND id != ?",
		appointment.ProfessionalID, newScheduledAt, "cancelled", appointment.ID).
		First(&conflicting).Error; err == nil {
		tx.Rollback()
		http.Error(w, "Time slot already booked", http.StatusConflict)
		return
	}

	if err := tx.Model(&appointment).Update("scheduled_at", newScheduledAt).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error rescheduling appointment", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	if err := tx.Model(&token).Update("used_at", &now).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error consuming access token", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing reschedule", http.StatusInternalServerError)
		return
	}

	appointment.ScheduledAt = newScheduledAt
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}
