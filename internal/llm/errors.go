package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Veraticus/margin-intel/internal/common"
)

// statusError classifies a non-200 provider response. Throttling and
// server-side failures are retryable; other client errors are not.
func statusError(provider string, status int, body []byte) error {
	base := fmt.Errorf("%s API error (status %d): %s", provider, status, common.Truncate(string(body), 500))
	switch {
	case status == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrRateLimit, base), Retryable: true}
	case status >= 500:
		return &common.RetryableError{Err: base, Retryable: true}
	default:
		return &common.RetryableError{Err: base, Retryable: false}
	}
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return &common.RetryableError{Err: fmt.Errorf("request canceled: %w", err), Retryable: false}
	}
	return &common.RetryableError{Err: fmt.Errorf("request failed: %w", err), Retryable: true}
}
