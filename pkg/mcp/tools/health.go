package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

type healthResult struct {
	Status      string               `json:"status"`
	Version     string               `json:"version"`
	DatabaseIDs []string             `json:"database_ids,omitempty"`
	SchemaCache *services.CacheStats `json:"schema_cache,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// databases and cache may be nil.
func RegisterHealthTool(s *server.MCPServer, version string, databases DatabaseLister, cache services.SchemaCache) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version}
		if databases != nil {
			res.DatabaseIDs = databases.DatabaseIDs()
		}
		if cache != nil {
			stats := cache.Stats()
			res.SchemaCache = &stats
		}
		result, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
