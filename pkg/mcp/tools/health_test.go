package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

func TestRegisterHealthTool(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))

	RegisterHealthTool(mcpServer, "test-version", nil, nil)

	result := mcpServer.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resultBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var response struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resultBytes, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	found := false
	for _, tool := range response.Result.Tools {
		if tool.Name == "health" {
			found = true
			if tool.Description != "Returns server health status and version" {
				t.Errorf("unexpected description: %s", tool.Description)
			}
			break
		}
	}
	if !found {
		t.Error("health tool not found in tools/list response")
	}
}

func TestHealthTool_Execute(t *testing.T) {
	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	cache := &mockSchemaCache{stats: services.CacheStats{Hits: 4, StaleServes: 1}}
	RegisterHealthTool(mcpServer, `1.2.3-beta"x`, staticDatabases{"sales"}, cache)

	reply := callTool(t, context.Background(), mcpServer, "health", nil)
	if reply.Result.IsError {
		t.Fatalf("unexpected tool error: %s", reply.text())
	}

	var health healthResult
	if err := json.Unmarshal([]byte(reply.text()), &health); err != nil {
		t.Fatalf("failed to unmarshal health result: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", health.Status)
	}
	if health.Version != `1.2.3-beta"x` {
		t.Errorf("expected escaped version to round trip, got '%s'", health.Version)
	}
	if len(health.DatabaseIDs) != 1 || health.DatabaseIDs[0] != "sales" {
		t.Errorf("unexpected database ids: %v", health.DatabaseIDs)
	}
	if health.SchemaCache == nil || health.SchemaCache.Hits != 4 {
		t.Errorf("unexpected cache stats: %+v", health.SchemaCache)
	}
}
