package handlers

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/models"
	"github.com/username/lavenderledger/src/security/validation"
	"github.com/username/lavenderledger/src/services"
	"github.com/username/lavenderledger/src/utils"
)

// LedgerHandler serves the read side of the ledger: accounts, categories,
// transactions and spending summaries.
type LedgerHandler struct {
	summaryService services.SummaryService
	db             *sql.DB
}

func NewLedgerHandler(service services.SummaryService, db *sql.DB) *LedgerHandler {
	return &LedgerHandler{
		summaryService: service,
		db:             db,
	}
}

func (h *LedgerHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.summaryService.Accounts(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("listing accounts failed", "error", err.Error())
		utils.SendJSONError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, accounts, http.StatusOK)
}

func (h *LedgerHandler) HandleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.summaryService.Categories(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("listing categories failed", "error", err.Error())
		utils.SendJSONError(w, "failed to list categories", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, categories, http.StatusOK)
}

// HandleSpendingSummary returns per-category spend for a date range,
// defaulting to the last 30 days.
func (h *LedgerHandler) HandleSpendingSummary(w http.ResponseWriter, r *http.Request) {
	endDate := r.URL.Query().Get("end_date")
	startDate := r.URL.Query().Get("start_date")
	if endDate == "" {
		endDate = time.Now().Format(validation.DateLayout)
	}
	if startDate == "" {
		startDate = time.Now().AddDate(0, 0, -30).Format(validation.DateLayout)
	}
	if err := validation.ValidateDate(startDate, "start_date"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateDate(endDate, "end_date"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.summaryService.SpendingByCategory(r.Context(), startDate, endDate)
	if err != nil {
		logger.FromContext(r.Context()).Error("spending summary failed", "error", err.Error())
		utils.SendJSONError(w, "failed to compute spending summary", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, summary, http.StatusOK)
}

// HandleListAccountTransactions returns recent transactions for one account.
func (h *LedgerHandler) HandleListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "invalid account id", http.StatusBadRequest)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.SendJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	transactions, err := models.ListTransactionsByAccount(h.db, accountID, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing transactions failed", "accountID", accountID, "error", err.Error())
		utils.SendJSONError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, transactions, http.StatusOK)
}

// HandleListUncategorized returns transactions awaiting categorization.
func (h *LedgerHandler) HandleListUncategorized(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.SendJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	transactions, err := models.ListUncategorizedTransactions(h.db, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing uncategorized transactions failed", "error", err.Error())
		utils.SendJSONError(w, "failed to list uncategorized transactions", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, transactions, http.StatusOK)
}

// HandleListIngestionLogs returns recent ingestion runs.
func (h *LedgerHandler) HandleListIngestionLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := models.ListIngestionLogs(h.db, 50)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing ingestion logs failed", "error", err.Error())
		utils.SendJSONError(w, "failed to list ingestion logs", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, logs, http.StatusOK)
}
