package llm

import (
	"context"
	"time"
)

// Client sends one prompt to a provider and returns the raw completion text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single system + user exchange.
type Request struct {
	System   string
	User     string
	JSONMode bool
}

// Config holds provider and transport settings.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	RetryDelay  time.Duration
	RateLimit   int // requests per minute
}
