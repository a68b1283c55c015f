package llm

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-intake/internal/config"
)

// NewGenerator selects a backend for cfg.Mode.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "openai":
		endpoint, model := hostedOverrides(cfg)
		return NewOpenAIGenerator(cfg.APIKey, endpoint, model), nil
	case "gemini":
		_, model := hostedOverrides(cfg)
		return NewGeminiGenerator(ctx, cfg.APIKey, model)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

// hostedOverrides drops the local ollama defaults so hosted backends fall
// back to their own endpoint and model.
func hostedOverrides(cfg config.LLMConfig) (endpoint, model string) {
	defaults := config.Default().LLM
	if cfg.Endpoint != defaults.Endpoint {
		endpoint = cfg.Endpoint
	}
	if cfg.Model != defaults.Model {
		model = cfg.Model
	}
	return endpoint, model
}
