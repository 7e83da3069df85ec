package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/margin-intel/internal/config"
)

// NewClient creates a provider client wrapped with rate limiting and retries,
// in that order from the outside in.
func NewClient(cfg Config) (Client, error) {
	var base Client
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		c, err := newOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		base = c
	case "anthropic":
		c, err := newAnthropicClient(cfg)
		if err != nil {
			return nil, err
		}
		base = c
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	var client Client = newRetryingClient(base, cfg.MaxRetries, cfg.RetryDelay)
	return newRateLimitedClient(client, cfg.RateLimit), nil
}

// ConfigFrom maps application settings onto a client Config.
func ConfigFrom(s config.LLMSettings) Config {
	return Config{
		Provider:    s.Provider,
		APIKey:      s.APIKey,
		Model:       s.Model,
		BaseURL:     s.BaseURL,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		MaxRetries:  s.MaxRetries,
		RateLimit:   s.RateLimit,
	}
}
