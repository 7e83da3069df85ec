package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/model"
	"github.com/Veraticus/margin-intel/internal/report"
	"github.com/Veraticus/margin-intel/internal/returns"
)

// DatasetLoader parses uploaded CSVs into validated record sets.
type DatasetLoader interface {
	LoadOrders(r io.Reader) (*model.OrderSet, error)
	LoadReturns(r io.Reader) (*model.ReturnSet, error)
}

// Ranker ranks recommended actions and clusters return reasons.
// RankActions must always return a usable decision.
type Ranker interface {
	returns.ReasonClusterer
	RankActions(ctx context.Context, req model.RankRequest) model.DecisionOutput
}

// Recorder observes run lifecycle events.
type Recorder interface {
	RunSubmitted()
	RunFinished(status string)
	StageCompleted(stage string, elapsed time.Duration)
	ValidationRejected(dataset string)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) RunSubmitted()                        {}
func (NopRecorder) RunFinished(string)                   {}
func (NopRecorder) StageCompleted(string, time.Duration) {}
func (NopRecorder) ValidationRejected(string)            {}

// Deps contains all dependencies required by the analysis engine.
type Deps struct {
	// Store holds run state.
	Store RunStore
	// Loader parses submitted datasets.
	Loader DatasetLoader
	// Ranker ranks actions and clusters return reasons.
	Ranker Ranker
	// Executor schedules pipelines off the caller's goroutine.
	Executor Executor
	// Metrics observes lifecycle events. Defaults to NopRecorder.
	Metrics Recorder
	// Builder assembles reports. Defaults to report.NewBuilder.
	Builder *report.Builder
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Settings supplies thresholds, limits and currency.
	Settings config.Settings
}

// Validate ensures all required dependencies are provided.
func (d *Deps) Validate() error {
	if d.Store == nil {
		return fmt.Errorf("run store dependency is required")
	}
	if d.Loader == nil {
		return fmt.Errorf("dataset loader dependency is required")
	}
	if d.Ranker == nil {
		return fmt.Errorf("ranker dependency is required")
	}
	if d.Executor == nil {
		return fmt.Errorf("executor dependency is required")
	}
	if err := d.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}
