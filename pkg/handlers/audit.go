package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

const maxAuditListLimit = 1000

// AuditLister reads back audit records.
type AuditLister interface {
	List(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error)
}

// AuditListResponse wraps the records for GET /api/audit.
type AuditListResponse struct {
	Records []*models.AuditRecord `json:"records"`
}

// AuditHandler exposes the audit log.
type AuditHandler struct {
	lister AuditLister
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(lister AuditLister, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{lister: lister, logger: logger}
}

// RegisterRoutes registers the audit route on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/audit", h.List)
}

// List handles GET /api/audit?user_id=&since=RFC3339&limit=N.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.AuditFilters{UserID: q.Get("user_id")}

	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_since", "since must be an RFC3339 timestamp")
			return
		}
		filters.Since = &since
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 || limit > maxAuditListLimit {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		filters.Limit = limit
	}

	records, err := h.lister.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list audit records", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "Failed to list audit records")
		return
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}
	writeData(w, h.logger, http.StatusOK, AuditListResponse{Records: records})
}
