package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/cli"
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/report"
	"github.com/Veraticus/margin-intel/internal/sheets"
)

// scriptedPoller replays a fixed sequence of run snapshots.
type scriptedPoller struct {
	runs  []analysis.Run
	calls int
	mu    sync.Mutex
}

func (p *scriptedPoller) GetRun(_ context.Context, _ string) (*analysis.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.runs) {
		i = len(p.runs) - 1
	}
	p.calls++
	run := p.runs[i]
	return &run, nil
}

func TestWaitForRun(t *testing.T) {
	poller := &scriptedPoller{runs: []analysis.Run{
		{RunID: "r1", Status: analysis.StatusProcessing, Progress: analysis.Progress{Percent: 15, Label: analysis.LabelProfiling}},
		{RunID: "r1", Status: analysis.StatusProcessing, Progress: analysis.Progress{Percent: 75, Label: analysis.LabelRanking}},
		{RunID: "r1", Status: analysis.StatusDone, Progress: analysis.Progress{Percent: 100, Label: analysis.LabelComplete}},
	}}
	progress := cli.NewRunProgress(io.Discard)

	run, err := waitForRun(context.Background(), poller, "r1", progress)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusDone, run.Status)
	assert.Equal(t, 100, progress.Percent())
	assert.Equal(t, 3, poller.calls)
}

func TestWaitForRun_Failed(t *testing.T) {
	poller := &scriptedPoller{runs: []analysis.Run{
		{RunID: "r1", Status: analysis.StatusProcessing, Progress: analysis.Progress{Percent: 35, Label: analysis.LabelReturns}},
		{RunID: "r1", Status: analysis.StatusError, Error: "boom", Progress: analysis.Progress{Percent: 0, Label: "Critical System Error: boom"}},
	}}
	progress := cli.NewRunProgress(io.Discard)

	run, err := waitForRun(context.Background(), poller, "r1", progress)
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusError, run.Status)
	assert.Equal(t, 35, progress.Percent())
}

func TestWaitForRun_Canceled(t *testing.T) {
	poller := &scriptedPoller{runs: []analysis.Run{
		{RunID: "r1", Status: analysis.StatusProcessing, Progress: analysis.Progress{Percent: 5, Label: analysis.LabelSubmitted}},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 3*pollInterval)
	defer cancel()

	_, err := waitForRun(ctx, poller, "r1", cli.NewRunProgress(io.Discard))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrintRunsTable(t *testing.T) {
	runs := []analysis.RunSummary{
		{RunID: "run-b", GeneratedAt: time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC), OrdersRows: 5, ReturnsRows: 1, TotalRevenue: 130},
		{RunID: "run-a", GeneratedAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), OrdersRows: 2, TotalRevenue: 10.5},
	}

	var buf bytes.Buffer
	require.NoError(t, printRunsTable(&buf, runs, "CAD"))

	out := buf.String()
	assert.Contains(t, out, "run-b")
	assert.Contains(t, out, "2024-02-02 09:00:00")
	assert.Contains(t, out, "130.00 CAD")
	assert.Contains(t, out, "10.50 CAD")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("run-b")), bytes.Index(buf.Bytes(), []byte("run-a")))
}

func TestOpenRunStore(t *testing.T) {
	ctx := context.Background()

	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			store, closeStore, err := openRunStore(ctx, backend)
			require.NoError(t, err)
			defer closeStore()

			require.NoError(t, store.Create(ctx, &analysis.Run{RunID: "r1", Status: analysis.StatusProcessing, CreatedAt: time.Now().UTC()}))
			run, err := store.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "r1", run.RunID)
		})
	}

	_, _, err := openRunStore(ctx, "postgres")
	require.Error(t, err)
}

func TestNewEngine_PlaceholderWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	settings := config.Defaults()

	engine, err := newEngine(settings, analysis.NewMemoryRunStore(), analysis.InlineExecutor{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, engine.LLMAvailable())
}

func TestAnalyzeCommand(t *testing.T) {
	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	outPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(ordersPath, []byte("order_id,sku,quantity,item_price\n1,A,1,10\n2,B,1,30\n"), 0o600))

	viper.Reset()
	config.SetDefaults(viper.GetViper())
	t.Cleanup(viper.Reset)
	t.Setenv("OPENAI_API_KEY", "")

	cmd := analyzeCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--orders", ordersPath, "--output", "json", "--out", outPath})
	cmd.SetContext(context.Background())

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), `"total_revenue": 40`)

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, stdout.String(), string(written))
}

func TestAnalyzeCommand_InvalidOrders(t *testing.T) {
	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(ordersPath, []byte("order_id,quantity\n1,1\n"), 0o600))

	viper.Reset()
	config.SetDefaults(viper.GetViper())
	t.Cleanup(viper.Reset)

	cmd := analyzeCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--orders", ordersPath})
	cmd.SetContext(context.Background())

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders_file is missing required columns: sku")
}

func TestRunsDownloadCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/runs/r1/download", r.URL.Path)
		_, _ = w.Write([]byte("{\n  \"run_id\": \"r1\"\n}"))
	}))
	defer srv.Close()

	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := runsCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"download", "r1", "--server", srv.URL})
	cmd.SetContext(context.Background())

	require.NoError(t, cmd.Execute())
	assert.JSONEq(t, `{"run_id":"r1"}`, stdout.String())
}

func TestExportToSheets_NotConfigured(t *testing.T) {
	_, err := exportToSheets(context.Background(), config.Defaults(), &report.Report{RunID: "r1"})
	require.ErrorIs(t, err, sheets.ErrNotConfigured)
	assert.Contains(t, err.Error(), "Google Sheets export unavailable")
}
