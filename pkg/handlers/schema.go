package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

// Datasources lists and tests the configured databases.
type Datasources interface {
	DatabaseIDs() []string
	TestConnection(ctx context.Context, databaseID string) error
}

// DatasourceListResponse is returned by GET /api/datasources.
type DatasourceListResponse struct {
	DatabaseIDs []string `json:"database_ids"`
}

// TestConnectionResponse for connection test result.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SchemaHandler manages schema cache entries and datasource checks.
type SchemaHandler struct {
	cache       services.SchemaCache
	datasources Datasources
	logger      *zap.Logger
}

// NewSchemaHandler creates a SchemaHandler.
func NewSchemaHandler(cache services.SchemaCache, datasources Datasources, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{cache: cache, datasources: datasources, logger: logger}
}

// RegisterRoutes registers the schema and datasource routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/datasources", h.ListDatasources)
	mux.HandleFunc("POST /api/datasources/{db}/test", h.TestConnection)
	mux.HandleFunc("POST /api/schema/{db}/invalidate", h.Invalidate)
}

// ListDatasources handles GET /api/datasources.
func (h *SchemaHandler) ListDatasources(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.logger, http.StatusOK, DatasourceListResponse{DatabaseIDs: h.datasources.DatabaseIDs()})
}

// Invalidate handles POST /api/schema/{db}/invalidate.
// The next question against db re-introspects the schema.
func (h *SchemaHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	db, ok := h.knownDatabase(w, r)
	if !ok {
		return
	}
	if err := h.cache.Invalidate(r.Context(), db); err != nil {
		h.logger.Error("Failed to invalidate schema cache",
			zap.String("database_id", db),
			zap.String("error", logging.SanitizeError(err)))
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "Failed to invalidate schema cache")
		return
	}
	h.logger.Info("Schema cache invalidated", zap.String("database_id", db))
	writeData(w, h.logger, http.StatusOK, map[string]string{"database_id": db})
}

// TestConnection handles POST /api/datasources/{db}/test.
// Connection failures are reported in the body with a 200 status.
func (h *SchemaHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	db, ok := h.knownDatabase(w, r)
	if !ok {
		return
	}

	resp := TestConnectionResponse{Success: true, Message: "Connection successful"}
	if err := h.datasources.TestConnection(r.Context(), db); err != nil {
		h.logger.Warn("Datasource connection test failed",
			zap.String("database_id", db),
			zap.String("error", logging.SanitizeError(err)))
		resp = TestConnectionResponse{Message: datasource.ToPipelineError(err).Message}
	}
	writeData(w, h.logger, http.StatusOK, resp)
}

func (h *SchemaHandler) knownDatabase(w http.ResponseWriter, r *http.Request) (string, bool) {
	db := r.PathValue("db")
	for _, id := range h.datasources.DatabaseIDs() {
		if id == db {
			return db, true
		}
	}
	writeError(w, h.logger, http.StatusNotFound, "not_found", "Unknown database: "+db)
	return "", false
}
