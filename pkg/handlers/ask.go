package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

// UserIDHeader identifies the asking user when the body does not.
const UserIDHeader = "X-User-ID"

const maxAskBodyBytes = 64 << 10

// AskHandler serves natural-language questions over HTTP.
type AskHandler struct {
	orchestrator services.Orchestrator
	logger       *zap.Logger
}

// NewAskHandler creates an AskHandler.
func NewAskHandler(orchestrator services.Orchestrator, logger *zap.Logger) *AskHandler {
	return &AskHandler{orchestrator: orchestrator, logger: logger}
}

// RegisterRoutes registers the ask route on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.Ask)
}

// Ask handles POST /api/ask.
// The body is the run result in every case; failed runs carry their partial
// artifacts and the status reflects the failure kind.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req services.AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(UserIDHeader)
	}

	switch {
	case strings.TrimSpace(req.Question) == "":
		writeError(w, h.logger, http.StatusBadRequest, "missing_question", "Question is required")
		return
	case req.DatabaseID == "":
		writeError(w, h.logger, http.StatusBadRequest, "missing_database_id", "database_id is required")
		return
	case req.UserID == "":
		writeError(w, h.logger, http.StatusBadRequest, "missing_user_id", "user_id or "+UserIDHeader+" is required")
		return
	}

	run, err := h.orchestrator.Ask(r.Context(), req)
	if run == nil {
		h.logger.Error("Orchestrator returned no run", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "Failed to answer the question")
		return
	}

	status := http.StatusOK
	if err != nil {
		status = StatusForFailure(err)
	}
	writeData(w, h.logger, status, run.Result(apperrors.KindName))
}

// StatusForFailure maps a run failure to an HTTP status.
func StatusForFailure(err error) int {
	var pe *apperrors.PipelineError
	errors.As(err, &pe)

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrValidationRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrQueryTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrSchemaUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrGenerationMalformed), errors.Is(err, apperrors.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrDriver):
		if pe != nil {
			switch pe.SubReason {
			case apperrors.ReasonSyntax:
				return http.StatusUnprocessableEntity
			case apperrors.ReasonPermission:
				return http.StatusForbidden
			}
		}
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrCanceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

