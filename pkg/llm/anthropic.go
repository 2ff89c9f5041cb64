package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 4000

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicClient creates a Messages API client.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for anthropic")
	}
	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")))
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		model:     cfg.Model,
		maxTokens: firstPositive(cfg.MaxTokens, defaultAnthropicMaxTokens),
		logger:    logger.Named("llm-anthropic"),
	}, nil
}

// Complete implements TextGenerator. Anthropic has no JSON mode; the prompt
// itself has to ask for JSON.
func (c *AnthropicClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	temperature := float32(prompt.Temperature)
	text := prompt.User

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      prompt.System,
		MaxTokens:   firstPositive(prompt.MaxTokens, c.maxTokens),
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &text},
			}},
		},
	})
	if err != nil {
		c.logger.Warn("LLM request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		e := ClassifyError(err)
		e.Model = c.model
		return "", e
	}

	c.logger.Info("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", &Error{Type: ErrorTypeMalformed, Message: "no text block in response", Model: c.model}
}

// GetModel implements TextGenerator.
func (c *AnthropicClient) GetModel() string { return c.model }

var _ TextGenerator = (*AnthropicClient)(nil)
