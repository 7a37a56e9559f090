package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/security/validation"
	"github.com/username/lavenderledger/src/services"
	"github.com/username/lavenderledger/src/utils"
)

type StatementHandler struct {
	statementService services.StatementService
}

func NewStatementHandler(service services.StatementService) *StatementHandler {
	return &StatementHandler{
		statementService: service,
	}
}

// HandleInsertStatement accepts parsed statement JSON from the external
// parser and ingests it. Duplicate statements come back 200 with
// duplicate_statement set, not as an error.
func (h *StatementHandler) HandleInsertStatement(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var parsed services.ParsedStatement
	if err := json.NewDecoder(r.Body).Decode(&parsed); err != nil {
		ctxLogger.Warn("invalid statement payload", "error", err.Error())
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	result, err := h.statementService.InsertStatement(r.Context(), parsed)
	if err != nil {
		if errors.Is(err, validation.ErrValidationFailed) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("statement ingestion failed", "error", err.Error())
		utils.SendJSONError(w, "failed to ingest statement", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if result.DuplicateStatement {
		status = http.StatusOK
	}
	utils.WriteJSON(w, result, status)
}
