package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/models"
	"github.com/username/lavenderledger/src/security/validation"
	"github.com/username/lavenderledger/src/services"
	"github.com/username/lavenderledger/src/utils"
)

type ReviewHandler struct {
	reviewService services.ReviewService
	db            *sql.DB
}

func NewReviewHandler(service services.ReviewService, db *sql.DB) *ReviewHandler {
	return &ReviewHandler{
		reviewService: service,
		db:            db,
	}
}

// HandleListFlagged returns the review queue, oldest first.
func (h *ReviewHandler) HandleListFlagged(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.SendJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	flagged, err := models.ListFlaggedTransactions(h.db, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing flagged transactions failed", "error", err.Error())
		utils.SendJSONError(w, "failed to list flagged transactions", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, flagged, http.StatusOK)
}

// HandleResolve applies one review decision to one flagged transaction.
func (h *ReviewHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req services.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctxLogger.Warn("invalid review payload", "error", err.Error())
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	result, err := h.reviewService.Resolve(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTransactionNotFound):
			utils.SendJSONError(w, "transaction not found", http.StatusNotFound)
		case errors.Is(err, services.ErrNotFlagged):
			utils.SendJSONError(w, "transaction is not flagged for review", http.StatusConflict)
		case errors.Is(err, validation.ErrValidationFailed):
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			ctxLogger.Error("review resolution failed", "transactionID", req.TransactionID, "error", err.Error())
			utils.SendJSONError(w, "failed to resolve review", http.StatusInternalServerError)
		}
		return
	}
	utils.WriteJSON(w, result, http.StatusOK)
}
