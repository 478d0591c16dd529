package ledger

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/agendali/booking-server/cmd/models"
	"github.com/agendali/booking-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// TransactionFilter represents all possible filters for the dashboard list.
type TransactionFilter struct {
	ProfessionalID uint
	Method         string
	Status         string
	MinAmountCents int64
	MaxAmountCents int64
	StartDate      time.Time
	EndDate        time.Time
}

// PaginatedResponse represents the standard paginated API response structure.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
	Error      string         `json:"error,omitempty"`
}

// PaginationMeta contains pagination metadata.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	HasPrevious bool  `json:"has_previous"`
	HasNext     bool  `json:"has_next"`
}

type TransactionHandler struct {
	db *gorm.DB
}

func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{db: db}
}

// RegisterRoutes registers transaction-related routes with Gorilla Mux.
func (h *TransactionHandler) RegisterRoutes(router *mux.Router) {
	transactionRouter := router.PathPrefix("/transactions").Subrouter()

	transactionRouter.HandleFunc("", utils.AuthMiddleware(h.GetTransactions)).Methods("GET")
	transactionRouter.HandleFunc("/{id}", utils.AuthMiddleware(h.GetTransaction)).Methods("GET")
}

// ParsePaginationParams extracts and validates pagination parameters.
func ParsePaginationParams(r *http.Request) (int, int, error) {
	query := r.URL.Query()

	page := 1
	if query.Get("page") != "" {
		parsedPage, err := strconv.Atoi(query.Get("page"))
		if err != nil || parsedPage < 1 {
			return 0, 0, err
		}
		page = parsedPage
	}

	perPage := 10
	if query.Get("per_page") != "" {
		parsedPerPage, err := strconv.Atoi(query.Get("per_page"))
		if err != nil || parsedPerPage < 1 {
			return 0, 0, err
		}
		if parsedPerPage > 100 {
			perPage = 100 // cap to prevent excessive queries
		} else {
			perPage = parsedPerPage
		}
	}

	return page, perPage, nil
}

// GetTransactions lists the authenticated professional's payment attempts
// with filters. This is the sales-report view over the ledger.
func (h *TransactionHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	professionalID, err := utils.GetProfessionalIDFromContext(r)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	filter := TransactionFilter{ProfessionalID: professionalID}
	queryParams := r.URL.Query()

	filter.Method = queryParams.Get("method")
	filter.Status = queryParams.Get("status")

	if minStr := queryParams.Get("min_amount_cents"); minStr != "" {
		filter.MinAmountCents, err = strconv.ParseInt(minStr, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid min_amount_cents parameter")
			return
		}
	}

	if maxStr := queryParams.Get("max_amount_cents"); maxStr != "" {
		filter.MaxAmountCents, err = strconv.ParseInt(maxStr, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid max_amount_cents parameter")
			return
		}
	}

	layout := "2006-01-02"

	if startDateStr := queryParams.Get("start_date"); startDateStr != "" {
		filter.StartDate, err = time.Parse(layout, startDateStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid start_date format. Use YYYY-MM-DD")
			return
		}
	}

	if endDateStr := queryParams.Get("end_date"); endDateStr != "" {
		filter.EndDate, err = time.Parse(layout, endDateStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid end_date format. Use YYYY-MM-DD")
			return
		}
	}

	query := h.db.Model(&models.Transaction{}).Where("professional_id = ?", filter.ProfessionalID)

	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}

	if filter.Status != "" {
		query = query.Where("payment_status = ?", filter.Status)
	}

	if filter.MinAmountCents != 0 {
		query = query.Where("amount_cents >= ?", filter.MinAmountCents)
	}

	if filter.MaxAmountCents != 0 {
		query = query.Where("amount_cents <= ?", filter.MaxAmountCents)
	}

	if !filter.StartDate.IsZero() {
		query = query.Where("created_at >= ?", filter.StartDate)
	}

	if !filter.EndDate.IsZero() {
		// Add one day to include the end date fully
		endDatePlusDay := filter.EndDate.Add(24 * time.Hour)
		query = query.Where("created_at < ?", endDatePlusDay)
	}

	page, perPage, err := ParsePaginationParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid pagination parameters")
		return
	}

	offset := (page - 1) * perPage

	var totalItems int64
	query.Count(&totalItems)

	var transactions []models.Transaction
	result := query.Order("created_at DESC").Limit(perPage).Offset(offset).Find(&transactions)
	if result.Error != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(perPage)))
	paginationMeta := PaginationMeta{
		CurrentPage: page,
		PerPage:     perPage,
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		HasPrevious: page > 1,
		HasNext:     page < totalPages,
	}

	respondWithJSON(w, http.StatusOK, PaginatedResponse{
		Data:       transactions,
		Pagination: paginationMeta,
	})
}

// GetTransaction returns one of the professional's own ledger entries.
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	professionalID, err := utils.GetProfessionalIDFromContext(r)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	var transaction models.Transaction
	if err := h.db.Where("id = ? AND professional_id = ?", id, professionalID).
		First(&transaction).Error; err != nil {
		respondWithError(w, http.StatusNotFound, "Transaction not found")
		return
	}

	respondWithJSON(w, http.StatusOK, transaction)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, PaginatedResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
