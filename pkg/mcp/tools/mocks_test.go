package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

type mockOrchestrator struct {
	AskFunc func(ctx context.Context, req services.AskRequest) (*models.PipelineRun, error)
	calls   []services.AskRequest
}

func (m *mockOrchestrator) Ask(ctx context.Context, req services.AskRequest) (*models.PipelineRun, error) {
	m.calls = append(m.calls, req)
	return m.AskFunc(ctx, req)
}

type mockSchemaCache struct {
	InvalidateFunc func(ctx context.Context, databaseID string) error
	invalidated    []string
	stats          services.CacheStats
}

func (m *mockSchemaCache) Get(ctx context.Context, databaseID string) (*models.SchemaResolution, error) {
	return nil, nil
}

func (m *mockSchemaCache) Invalidate(ctx context.Context, databaseID string) error {
	m.invalidated = append(m.invalidated, databaseID)
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, databaseID)
	}
	return nil
}

func (m *mockSchemaCache) Stats() services.CacheStats { return m.stats }

type staticDatabases []string

func (d staticDatabases) DatabaseIDs() []string { return d }

// toolReply is the decoded tools/call response.
type toolReply struct {
	Result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r toolReply) text() string {
	if len(r.Result.Content) == 0 {
		return ""
	}
	return r.Result.Content[0].Text
}

// callTool sends a tools/call through the server's JSON-RPC handler.
func callTool(t *testing.T, ctx context.Context, s *server.MCPServer, name string, args map[string]any) toolReply {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	raw, err := json.Marshal(s.HandleMessage(ctx, msg))
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}
	var reply toolReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return reply
}
