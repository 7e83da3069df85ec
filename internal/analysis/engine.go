package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/dependency"
	"github.com/Veraticus/margin-intel/internal/loader"
	"github.com/Veraticus/margin-intel/internal/model"
	"github.com/Veraticus/margin-intel/internal/profiler"
	"github.com/Veraticus/margin-intel/internal/report"
	"github.com/Veraticus/margin-intel/internal/returns"
)

// Stage names reported to the metrics recorder.
const (
	StageProfiling  = "profiling"
	StageReturns    = "returns"
	StageDependency = "dependency"
	StageRanking    = "ranking"
	StageReport     = "report"
)

// Engine is the run manager: it validates submissions, schedules the
// pipeline and exposes run state for polling.
type Engine struct {
	deps       Deps
	profiler   *profiler.Profiler
	returns    *returns.Analyzer
	dependency *dependency.Analyzer
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewEngine creates a new engine with the provided dependencies.
func NewEngine(deps Deps) (*Engine, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if deps.Metrics == nil {
		deps.Metrics = NopRecorder{}
	}
	if deps.Builder == nil {
		deps.Builder = report.NewBuilder()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Engine{
		deps:       deps,
		profiler:   profiler.New(deps.Settings.Limits.HighReturnSKUs),
		returns:    returns.NewAnalyzer(returns.ConfigFrom(deps.Settings), deps.Ranker, deps.Logger),
		dependency: dependency.NewAnalyzer(deps.Settings.Thresholds),
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
	}, nil
}

// LLMAvailable reports whether the ranker can reach a model.
func (e *Engine) LLMAvailable() bool {
	return e.deps.Ranker.Available()
}

// job is the validated input of one pipeline execution.
type job struct {
	orders      *model.OrderSet
	returns     *model.ReturnSet
	goal        string
	constraints string
}

// Submit validates the datasets and schedules the pipeline. Validation
// failures are returned synchronously and create no run.
func (e *Engine) Submit(ctx context.Context, sub Submission) (string, error) {
	j, err := e.load(sub)
	if err != nil {
		var ve *common.ValidationError
		if errors.As(err, &ve) {
			e.deps.Metrics.ValidationRejected(ve.Dataset)
			e.logger.Warn("Rejected submission", "dataset", ve.Dataset, "error", err)
		}
		return "", err
	}

	runID := e.newID()
	run := &Run{
		RunID:     runID,
		Status:    StatusProcessing,
		Progress:  Progress{Percent: 5, Label: LabelSubmitted},
		CreatedAt: e.now(),
	}
	if err := e.deps.Store.Create(ctx, run); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	e.deps.Metrics.RunSubmitted()
	e.logger.Info("Run submitted",
		"run_id", runID,
		"orders_rows", j.orders.Len(),
		"returns_rows", j.returns.Len())

	runCtx := context.WithoutCancel(ctx)
	e.deps.Executor.Go(func() {
		e.execute(runCtx, runID, j)
	})

	return runID, nil
}

func (e *Engine) load(sub Submission) (*job, error) {
	if sub.Orders == nil {
		return nil, &common.ValidationError{Dataset: loader.OrdersDataset, Reason: "file is required"}
	}

	orders, err := e.deps.Loader.LoadOrders(sub.Orders)
	if err != nil {
		return nil, err
	}

	var rets *model.ReturnSet
	if sub.Returns != nil {
		rets, err = e.deps.Loader.LoadReturns(sub.Returns)
		if err != nil {
			return nil, err
		}
	}

	goal := strings.TrimSpace(sub.Goal)
	if goal == "" {
		goal = DefaultGoal
	}

	return &job{
		orders:      orders,
		returns:     rets,
		goal:        goal,
		constraints: strings.TrimSpace(sub.Constraints),
	}, nil
}

// execute runs the pipeline for one run and records its terminal state.
// Errors and panics become the run's error; nothing propagates further.
func (e *Engine) execute(ctx context.Context, runID string, j *job) {
	start := time.Now()
	logger := e.logger.With("run_id", runID)

	var (
		rep *report.Report
		err error
		pc  panics.Catcher
	)
	pc.Try(func() {
		rep, err = e.pipeline(ctx, runID, j, logger)
	})
	if recovered := pc.Recovered(); recovered != nil {
		err = recovered.AsError()
	}

	if err == nil {
		err = e.deps.Store.Complete(ctx, runID, rep)
		if err == nil {
			e.deps.Metrics.RunFinished(string(StatusDone))
			logger.Info("Run completed", "duration", time.Since(start))
			return
		}
	}

	logger.Error("Run failed", "error", err, "duration", time.Since(start))
	if failErr := e.deps.Store.Fail(ctx, runID, err.Error()); failErr != nil {
		logger.Error("Failed to record run failure", "error", failErr)
		return
	}
	e.deps.Metrics.RunFinished(string(StatusError))
}

// pipeline runs every stage in order, advancing progress before each one.
func (e *Engine) pipeline(ctx context.Context, runID string, j *job, logger *slog.Logger) (*report.Report, error) {
	var (
		profiling  model.ProfilingResult
		returnsOut model.ReturnsIntelligence
		depRisk    model.RevenueDependencyRisk
		decision   model.DecisionOutput
		rep        *report.Report
	)

	stages := []struct {
		run      func()
		name     string
		progress Progress
	}{
		{
			name:     StageProfiling,
			progress: Progress{Percent: 15, Label: LabelProfiling},
			run:      func() { profiling = e.profiler.Profile(j.orders, j.returns) },
		},
		{
			name:     StageReturns,
			progress: Progress{Percent: 35, Label: LabelReturns},
			run:      func() { returnsOut = e.returns.Analyze(ctx, j.orders, j.returns, &profiling) },
		},
		{
			name:     StageDependency,
			progress: Progress{Percent: 55, Label: LabelDependency},
			run:      func() { depRisk = e.dependency.Analyze(&profiling) },
		},
		{
			name:     StageRanking,
			progress: Progress{Percent: 75, Label: LabelRanking},
			run: func() {
				decision = e.deps.Ranker.RankActions(ctx, model.RankRequest{
					Goal:        j.goal,
					Constraints: j.constraints,
					Profiling:   profiling,
					Returns:     returnsOut,
					Dependency:  depRisk,
				})
			},
		},
		{
			name:     StageReport,
			progress: Progress{Percent: 95, Label: LabelReport},
			run: func() {
				rep = e.deps.Builder.Build(runID, &profiling, &returnsOut, &depRisk, &decision, e.datasetMeta(j))
			},
		},
	}

	for _, stage := range stages {
		if err := e.deps.Store.UpdateProgress(ctx, runID, stage.progress); err != nil {
			return nil, fmt.Errorf("failed to update progress: %w", err)
		}
		started := time.Now()
		stage.run()
		elapsed := time.Since(started)
		e.deps.Metrics.StageCompleted(stage.name, elapsed)
		logger.Debug("Stage completed", "stage", stage.name, "duration", elapsed)
	}

	return rep, nil
}

func (e *Engine) datasetMeta(j *job) model.DatasetMeta {
	notes := append([]string{}, j.orders.Notes...)
	if j.returns != nil {
		notes = append(notes, j.returns.Notes...)
	}
	return model.DatasetMeta{
		Currency:    e.deps.Settings.Currency,
		Notes:       notes,
		OrdersRows:  j.orders.Len(),
		ReturnsRows: j.returns.Len(),
	}
}

// GetRun returns a snapshot of a run, or common.ErrNotFound.
func (e *Engine) GetRun(ctx context.Context, runID string) (*Run, error) {
	return e.deps.Store.Get(ctx, runID)
}

// ListCompleted returns summaries of every done run, newest first.
func (e *Engine) ListCompleted(ctx context.Context) ([]RunSummary, error) {
	return e.deps.Store.ListCompleted(ctx)
}

// Export returns the report of a done run. Runs still processing or failed
// yield common.ErrRunNotComplete along with their current snapshot.
func (e *Engine) Export(ctx context.Context, runID string) (*report.Report, *Run, error) {
	run, err := e.deps.Store.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != StatusDone || run.Report == nil {
		return nil, run, fmt.Errorf("run %s is %s: %w", runID, run.Status, common.ErrRunNotComplete)
	}
	return run.Report, run, nil
}
