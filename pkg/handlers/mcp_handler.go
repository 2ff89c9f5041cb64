package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/config"
	"github.com/ekaya-inc/ekaya-askdb/pkg/mcp"
	"github.com/ekaya-inc/ekaya-askdb/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-askdb/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer http.Handler
	logger     *zap.Logger
	mcpConfig  config.MCPConfig
}

// NewMCPHandler creates a new MCP handler from an MCP server. The caller's
// X-User-ID header is passed to tools through the request context.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger, mcpConfig config.MCPConfig) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(server.WithHTTPContextFunc(tools.UserContextFromRequest)),
		logger:     logger,
		mcpConfig:  mcpConfig,
	}
}

// RegisterRoutes registers the MCP endpoint at the configured path.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux) {
	logged := middleware.MCPRequestLogger(h.logger)(h.httpServer)
	mux.Handle(h.mcpConfig.Path, h.requirePOST(logged))
}

// requirePOST returns 405 Method Not Allowed for non-POST requests.
// MCP over HTTP Streaming requires POST for JSON-RPC requests.
func (h *MCPHandler) requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
