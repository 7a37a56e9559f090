package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/services"
	"github.com/username/lavenderledger/src/utils"
)

type CategorizationHandler struct {
	categorizationService services.CategorizationService
}

func NewCategorizationHandler(service services.CategorizationService) *CategorizationHandler {
	return &CategorizationHandler{
		categorizationService: service,
	}
}

// HandleApplyCategorizations accepts an external categorization result and
// applies it. Per-entry failures are reported in the result body, never as a
// whole-call error.
func (h *CategorizationHandler) HandleApplyCategorizations(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var result services.CategorizationResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		ctxLogger.Warn("invalid categorization payload", "error", err.Error())
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	applied, err := h.categorizationService.ApplyCategorizations(r.Context(), result)
	if err != nil {
		ctxLogger.Error("applying categorizations failed", "error", err.Error())
		utils.SendJSONError(w, "failed to apply categorizations", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, applied, http.StatusOK)
}

// HandleApplyRuleMatches runs the stored rule set over uncategorized
// transactions.
func (h *CategorizationHandler) HandleApplyRuleMatches(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	result, err := h.categorizationService.ApplyRuleMatches(r.Context())
	if err != nil {
		ctxLogger.Error("rule match pass failed", "error", err.Error())
		utils.SendJSONError(w, "failed to run rule matching", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, result, http.StatusOK)
}
