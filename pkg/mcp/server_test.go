package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

func TestNewServer(t *testing.T) {
	logger := zap.NewNop()
	s := NewServer("ekaya-askdb", "1.0.0", logger)

	if s == nil {
		t.Fatal("expected non-nil server")
	}
	if s.MCP() == nil || s.MCP() != s.mcp {
		t.Fatal("expected MCP() to return the internal mcp server")
	}
	if s.logger != logger {
		t.Error("expected logger to be set")
	}
}

func TestServer_RegisterTool(t *testing.T) {
	s := NewServer("ekaya-askdb", "1.0.0", zap.NewNop())

	calls := 0
	s.RegisterTool(mcp.NewTool("echo", mcp.WithDescription("Echoes")), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		calls++
		return mcp.NewToolResultText("pong"), nil
	})
	if calls != 0 {
		t.Fatal("handler should not be called during registration")
	}

	resp := s.MCP().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`))
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}
	var decoded struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(decoded.Result.Content) != 1 || decoded.Result.Content[0].Text != "pong" {
		t.Errorf("unexpected result: %s", raw)
	}
}

func TestServer_NewStreamableHTTPServer(t *testing.T) {
	s := NewServer("ekaya-askdb", "1.0.0", zap.NewNop())

	if s.NewStreamableHTTPServer() == nil {
		t.Fatal("expected non-nil HTTP server")
	}
}
