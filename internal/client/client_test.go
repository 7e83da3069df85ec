package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/margin-intel/internal/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, WithRetry(common.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}))
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)

	c, err = New("http://example.com:9000/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:9000", c.baseURL)

	_, err = New("localhost")
	require.Error(t, err)
}

func TestClient_List(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/runs", r.URL.Path)
		_, _ = w.Write([]byte(`{"runs":[
			{"run_id":"b","generated_at":"2024-02-02T00:00:00Z","orders_rows":5,"returns_rows":1,"total_revenue":130},
			{"run_id":"a","generated_at":"2024-02-01T00:00:00Z","orders_rows":2,"returns_rows":0,"total_revenue":10}
		]}`))
	})

	runs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].RunID)
	assert.Equal(t, 5, runs[0].OrdersRows)
	assert.InDelta(t, 130.0, runs[0].TotalRevenue, 1e-9)
}

func TestClient_Get(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/runs/r1":
			_, _ = w.Write([]byte(`{"run_id":"r1","status":"processing","progress":{"percent":35,"label":"Correlating return signatures"},"created_at":"2024-02-01T00:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
		}
	})

	run, err := c.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", run.RunID)
	assert.Equal(t, 35, run.Progress.Percent)

	_, err = c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestClient_Download(t *testing.T) {
	const doc = "{\n  \"run_id\": \"r1\"\n}"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/runs/r1/download":
			_, _ = w.Write([]byte(doc))
		case "/v1/runs/r2/download":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"run_not_complete","status":"processing"}`))
		}
	})

	var buf bytes.Buffer
	require.NoError(t, c.Download(context.Background(), "r1", &buf))
	assert.Equal(t, doc, buf.String())

	err := c.Download(context.Background(), "r2", &buf)
	require.ErrorIs(t, err, common.ErrRunNotComplete)
	assert.Contains(t, err.Error(), "processing")

	rep, err := c.Report(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rep.RunID)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal_server_error"}`))
			return
		}
		_, _ = w.Write([]byte(`{"runs":[]}`))
	})

	runs, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.List(context.Background())
	require.ErrorIs(t, err, common.ErrMaxRetries)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found"}`))
	})

	_, err := c.Get(context.Background(), "x")
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}
