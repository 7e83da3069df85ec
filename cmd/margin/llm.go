package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/llm"
)

// createRanker builds the action ranker from settings. Without an API key
// the ranker is unavailable and every run gets the placeholder decision.
func createRanker(settings config.Settings, onFallback func(op string)) (*llm.Ranker, error) {
	opts := []llm.RankerOption{
		llm.WithTimeout(settings.LLM.Timeout),
		llm.WithMaxActions(settings.Limits.MaxActions),
		llm.WithCacheTTL(settings.LLM.CacheTTL),
		llm.WithLogger(slog.Default().With("component", "ranker")),
	}
	if onFallback != nil {
		opts = append(opts, llm.WithFallbackHook(onFallback))
	}

	var client llm.Client
	if settings.LLM.APIKey == "" {
		slog.Warn("No LLM API key configured; ranked actions will be placeholders",
			"provider", settings.LLM.Provider)
	} else {
		c, err := llm.NewClient(llm.ConfigFrom(settings.LLM))
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		client = c
	}

	ranker, err := llm.NewRanker(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ranker: %w", err)
	}
	return ranker, nil
}
