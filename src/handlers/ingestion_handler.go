package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/security/validation"
	"github.com/username/lavenderledger/src/services"
	"github.com/username/lavenderledger/src/utils"
)

type IngestionHandler struct {
	ingestionService services.IngestionService
}

func NewIngestionHandler(service services.IngestionService) *IngestionHandler {
	return &IngestionHandler{
		ingestionService: service,
	}
}

// HandleStartRun opens a new ingestion log.
func (h *IngestionHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	log, err := h.ingestionService.StartRun(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("starting ingestion run failed", "error", err.Error())
		utils.SendJSONError(w, "failed to start ingestion run", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, log, http.StatusCreated)
}

type processBatchRequest struct {
	BatchNumber int                      `json:"batch_number"`
	Files       []services.IngestionFile `json:"files"`
}

// HandleProcessBatch processes one batch of parsed files under a log.
func (h *IngestionHandler) HandleProcessBatch(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	logID, err := urlParamInt64(r, "logID")
	if err != nil {
		utils.SendJSONError(w, "invalid log id", http.StatusBadRequest)
		return
	}

	var req processBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctxLogger.Warn("invalid batch payload", "error", err.Error())
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.BatchNumber <= 0 {
		utils.SendJSONError(w, "batch_number must be positive", http.StatusBadRequest)
		return
	}

	result, err := h.ingestionService.ProcessBatch(r.Context(), logID, req.BatchNumber, req.Files)
	if err != nil {
		if errors.Is(err, services.ErrLogNotFound) {
			utils.SendJSONError(w, "ingestion log not found", http.StatusNotFound)
			return
		}
		ctxLogger.Error("batch processing failed", "logID", logID, "error", err.Error())
		utils.SendJSONError(w, "failed to process batch", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, result, http.StatusOK)
}

// HandleResumeState reports what a resumed invocation must redo. With no
// log id it inspects the most recent unfinished run.
func (h *IngestionHandler) HandleResumeState(w http.ResponseWriter, r *http.Request) {
	var logID int64
	if raw := r.URL.Query().Get("log_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			utils.SendJSONError(w, "invalid log_id", http.StatusBadRequest)
			return
		}
		logID = parsed
	}

	state, err := h.ingestionService.DetectResumeState(r.Context(), logID)
	if err != nil {
		if errors.Is(err, services.ErrLogNotFound) {
			utils.SendJSONError(w, "ingestion log not found", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("resume state query failed", "error", err.Error())
		utils.SendJSONError(w, "failed to compute resume state", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, state, http.StatusOK)
}

// HandleRetryFile re-processes one file from the resume set.
func (h *IngestionHandler) HandleRetryFile(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	fileStatusID, err := urlParamInt64(r, "fileStatusID")
	if err != nil {
		utils.SendJSONError(w, "invalid file status id", http.StatusBadRequest)
		return
	}

	var parsed services.ParsedStatement
	if err := json.NewDecoder(r.Body).Decode(&parsed); err != nil {
		ctxLogger.Warn("invalid retry payload", "error", err.Error())
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	result, err := h.ingestionService.RetryFile(r.Context(), fileStatusID, parsed)
	if err != nil {
		if errors.Is(err, validation.ErrValidationFailed) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("file retry failed", "fileStatusID", fileStatusID, "error", err.Error())
		utils.SendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	utils.WriteJSON(w, result, http.StatusOK)
}

// HandleCompleteRun finalizes a log from its durable file rows.
func (h *IngestionHandler) HandleCompleteRun(w http.ResponseWriter, r *http.Request) {
	logID, err := urlParamInt64(r, "logID")
	if err != nil {
		utils.SendJSONError(w, "invalid log id", http.StatusBadRequest)
		return
	}

	log, err := h.ingestionService.CompleteRun(r.Context(), logID)
	if err != nil {
		if errors.Is(err, services.ErrLogNotFound) {
			utils.SendJSONError(w, "ingestion log not found", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("completing ingestion run failed", "logID", logID, "error", err.Error())
		utils.SendJSONError(w, "failed to complete ingestion run", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, log, http.StatusOK)
}

type failRunRequest struct {
	Reason string `json:"reason"`
}

// HandleFailRun marks a log failed without disturbing committed file rows.
func (h *IngestionHandler) HandleFailRun(w http.ResponseWriter, r *http.Request) {
	logID, err := urlParamInt64(r, "logID")
	if err != nil {
		utils.SendJSONError(w, "invalid log id", http.StatusBadRequest)
		return
	}

	var req failRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := h.ingestionService.FailRun(r.Context(), logID, req.Reason); err != nil {
		if errors.Is(err, services.ErrLogNotFound) {
			utils.SendJSONError(w, "ingestion log not found", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("failing ingestion run failed", "logID", logID, "error", err.Error())
		utils.SendJSONError(w, "failed to mark run failed", http.StatusInternalServerError)
		return
	}
	utils.WriteJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

func urlParamInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
