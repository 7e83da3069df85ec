// Package client talks to a running margin server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/report"
)

// DefaultBaseURL is where serve listens by default.
const DefaultBaseURL = "http://localhost:8080"

// APIError is a non-success response the client has no sentinel for.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Client calls the runs API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retry      common.RetryOptions
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the backoff applied to transient failures.
func WithRetry(opts common.RetryOptions) Option {
	return func(c *Client) { c.retry = opts }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// List returns summaries of completed runs, newest first.
func (c *Client) List(ctx context.Context) ([]analysis.RunSummary, error) {
	var body struct {
		Runs []analysis.RunSummary `json:"runs"`
	}
	if err := c.getJSON(ctx, "/v1/runs", &body); err != nil {
		return nil, err
	}
	return body.Runs, nil
}

// Get returns a run snapshot.
func (c *Client) Get(ctx context.Context, runID string) (*analysis.Run, error) {
	var run analysis.Run
	if err := c.getJSON(ctx, "/v1/runs/"+url.PathEscape(runID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Download writes the report of a done run to w as served.
func (c *Client) Download(ctx context.Context, runID string, w io.Writer) error {
	data, err := c.get(ctx, "/v1/runs/"+url.PathEscape(runID)+"/download")
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Report fetches and decodes the report of a done run.
func (c *Client) Report(ctx context.Context, runID string) (*report.Report, error) {
	var rep report.Report
	if err := c.getJSON(ctx, "/v1/runs/"+url.PathEscape(runID)+"/download", &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	data, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// get fetches path, retrying transport failures and 5xx answers.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := common.WithRetry(ctx, func() error {
		var reqErr error
		data, reqErr = c.do(ctx, path)
		return reqErr
	}, c.retry)
	if errors.Is(err, common.ErrMaxRetries) {
		return nil, fmt.Errorf("server unreachable: %w", err)
	}
	return data, err
}

func (c *Client) do(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &common.RetryableError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &common.RetryableError{Err: err}
		}
		return nil, &common.RetryableError{Err: fmt.Errorf("request failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &common.RetryableError{Err: fmt.Errorf("failed to read response: %w", err), Retryable: true}
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	return nil, responseError(resp.StatusCode, body)
}

// responseError maps an error answer onto the shared sentinels.
func responseError(status int, body []byte) error {
	var payload struct {
		Error  string `json:"error"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &payload)

	switch {
	case status == http.StatusNotFound:
		return &common.RetryableError{Err: common.ErrNotFound}
	case status == http.StatusConflict:
		return &common.RetryableError{Err: fmt.Errorf("run is %s: %w", payload.Status, common.ErrRunNotComplete)}
	case status >= 500:
		return &common.RetryableError{Err: &APIError{StatusCode: status, Message: payload.Error}, Retryable: true}
	default:
		return &common.RetryableError{Err: &APIError{StatusCode: status, Message: payload.Error}}
	}
}
