package providers

import (
	"fmt"

	"github.com/nextlevelbuilder/aiorg/internal/config"
)

// FromConfig builds the configured default provider, wrapped in a
// concurrency gate.
func FromConfig(cfg *config.ProvidersConfig) (Provider, error) {
	var inner Provider

	switch cfg.Default {
	case "", "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but AIORG_ANTHROPIC_API_KEY is not set")
		}
		inner = NewAnthropicProvider(cfg.Anthropic.APIKey,
			WithAnthropicModel(cfg.Anthropic.Model),
			WithAnthropicBaseURL(cfg.Anthropic.BaseURL),
		)
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but AIORG_OPENAI_API_KEY is not set")
		}
		inner = NewOpenAIProvider("openai", cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Default)
	}

	return NewGated(inner, cfg.MaxConcurrent), nil
}
