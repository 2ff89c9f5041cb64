package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/config"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthResponse reports liveness plus pool and schema cache state.
type HealthResponse struct {
	Status      string                          `json:"status"`
	Connections map[string]datasource.PoolStats `json:"connections,omitempty"`
	SchemaCache *services.CacheStats            `json:"schema_cache,omitempty"`
}

// PoolStatsSource reports statistics for open datasource pools.
type PoolStatsSource interface {
	GetStats() map[string]datasource.PoolStats
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	pools  PoolStatsSource
	cache  services.SchemaCache
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler. pools and cache may be nil.
func NewHealthHandler(cfg *config.Config, pools PoolStatsSource, cache services.SchemaCache, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, pools: pools, cache: cache, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.pools != nil {
		resp.Connections = h.pools.GetStats()
	}
	if h.cache != nil {
		stats := h.cache.Stats()
		resp.SchemaCache = &stats
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-askdb",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
