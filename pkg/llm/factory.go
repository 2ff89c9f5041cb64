package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/config"
)

// NewFromConfig builds the configured provider client wrapped in a circuit breaker.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (*BreakerGenerator, error) {
	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	var (
		gen TextGenerator
		err error
	)
	switch cfg.Provider {
	case "openai":
		gen, err = NewOpenAIClient(clientCfg, logger)
	case "anthropic":
		gen, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	logger.Info("LLM provider configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))

	return WithCircuitBreaker(gen, NewCircuitBreaker(DefaultCircuitBreakerConfig())), nil
}
