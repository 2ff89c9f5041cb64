package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds configuration for creating a provider client.
type Config struct {
	Endpoint  string // Base URL; empty uses the provider default
	Model     string
	APIKey    string
	MaxTokens int // Default completion cap
}

// OpenAIClient talks to OpenAI-compatible chat completion endpoints.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewOpenAIClient creates a chat completion client.
func NewOpenAIClient(cfg *Config, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm-openai"),
	}, nil
}

// Complete implements TextGenerator.
func (c *OpenAIClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		Temperature: float32(prompt.Temperature),
		MaxTokens:   firstPositive(prompt.MaxTokens, c.maxTokens),
	}
	if prompt.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt.User)),
		zap.Float64("temperature", prompt.Temperature))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("LLM request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		e := ClassifyError(err)
		e.Model = c.model
		return "", e
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Type: ErrorTypeMalformed, Message: "no choices in response", Model: c.model}
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// GetModel implements TextGenerator.
func (c *OpenAIClient) GetModel() string { return c.model }

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

var _ TextGenerator = (*OpenAIClient)(nil)
