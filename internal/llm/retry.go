package llm

import (
	"context"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
)

// retryingClient retries transient provider failures with exponential backoff.
type retryingClient struct {
	next Client
	opts common.RetryOptions
}

func newRetryingClient(next Client, maxRetries int, delay time.Duration) *retryingClient {
	if delay <= 0 {
		delay = time.Second
	}
	return &retryingClient{
		next: next,
		opts: common.RetryOptions{
			MaxAttempts:  maxRetries,
			InitialDelay: delay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

func (c *retryingClient) Complete(ctx context.Context, req Request) (string, error) {
	var content string
	err := common.WithRetry(ctx, func() error {
		var err error
		content, err = c.next.Complete(ctx, req)
		return err
	}, c.opts)
	return content, err
}
