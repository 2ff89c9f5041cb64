package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/config"
)

func TestOpenAIClient_Complete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"sql\": \"SELECT 1\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(&Config{Endpoint: server.URL + "/v1", Model: "gpt-4o", APIKey: "sk-test", MaxTokens: 500}, zap.NewNop())
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), Prompt{System: "sys", User: "question", Temperature: 0.1, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"sql": "SELECT 1"}`, out)

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, float64(500), got["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "sys", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "question", msgs[1].(map[string]any)["content"])
}

func TestOpenAIClient_ClassifiesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "Rate limit reached", "type": "rate_limit_exceeded"}}`)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(&Config{Endpoint: server.URL, Model: "gpt-4o", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Prompt{User: "q"})
	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorTypeRateLimited, llmErr.Type)
	assert.True(t, llmErr.Retryable)
	assert.Equal(t, "gpt-4o", llmErr.Model)
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "{\"sql\": \"SELECT 2\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 6}
		}`)
	}))
	defer server.Close()

	client, err := NewAnthropicClient(&Config{Endpoint: server.URL + "/v1", Model: "claude-sonnet-4-5", APIKey: "ak-test"}, zap.NewNop())
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), Prompt{System: "sys", User: "question", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, `{"sql": "SELECT 2"}`, out)
	assert.Contains(t, got, "system")
	assert.Equal(t, float64(defaultAnthropicMaxTokens), got["max_tokens"])
}

func TestNewFromConfig(t *testing.T) {
	gen, err := NewFromConfig(config.LLMConfig{Provider: "openai", Model: "gpt-4o", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", gen.GetModel())
	assert.Equal(t, CircuitClosed, gen.Breaker().State())

	_, err = NewFromConfig(config.LLMConfig{Provider: "anthropic", Model: "claude"}, zap.NewNop())
	assert.ErrorContains(t, err, "api key is required")

	_, err = NewFromConfig(config.LLMConfig{Provider: "cohere", Model: "x"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported")
}
