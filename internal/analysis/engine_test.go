package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/llm"
	"github.com/Veraticus/margin-intel/internal/loader"
	"github.com/Veraticus/margin-intel/internal/model"
	"github.com/Veraticus/margin-intel/internal/report"
)

const ordersCSV = `order_id,sku,quantity,item_price,order_date
1,A,1,10,2024-01-01
2,A,1,20,2024-01-02
3,B,1,15,2024-01-03
4,B,2,30,2024-01-04
5,C,1,25,2024-01-05
`

const returnsCSV = `sku,order_id,return_reason_text
B,4,too small
`

type mockRanker struct {
	mock.Mock
}

func (m *mockRanker) Available() bool {
	return m.Called().Bool(0)
}

func (m *mockRanker) ClusterReasons(ctx context.Context, sample []model.ReasonSample) ([]model.Theme, error) {
	args := m.Called(ctx, sample)
	themes, _ := args.Get(0).([]model.Theme)
	return themes, args.Error(1)
}

func (m *mockRanker) RankActions(ctx context.Context, req model.RankRequest) model.DecisionOutput {
	args := m.Called(ctx, req)
	return args.Get(0).(model.DecisionOutput)
}

type recordingRecorder struct {
	finished  []string
	stages    []string
	rejected  []string
	submitted int
	mu        sync.Mutex
}

func (r *recordingRecorder) RunSubmitted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
}

func (r *recordingRecorder) RunFinished(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, status)
}

func (r *recordingRecorder) StageCompleted(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingRecorder) ValidationRejected(dataset string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, dataset)
}

// spyStore records writes on top of a real store.
type spyStore struct {
	RunStore
	updates []Progress
	creates int
	mu      sync.Mutex
}

func (s *spyStore) Create(ctx context.Context, run *Run) error {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	return s.RunStore.Create(ctx, run)
}

func (s *spyStore) UpdateProgress(ctx context.Context, runID string, p Progress) error {
	s.mu.Lock()
	s.updates = append(s.updates, p)
	s.mu.Unlock()
	return s.RunStore.UpdateProgress(ctx, runID, p)
}

type engineFixture struct {
	engine   *Engine
	store    *spyStore
	metrics  *recordingRecorder
	executor Executor
}

func newEngineFixture(t *testing.T, ranker Ranker, executor Executor) *engineFixture {
	t.Helper()
	if executor == nil {
		executor = InlineExecutor{}
	}
	f := &engineFixture{
		store:    &spyStore{RunStore: NewMemoryRunStore()},
		metrics:  &recordingRecorder{},
		executor: executor,
	}
	engine, err := NewEngine(Deps{
		Store:    f.store,
		Loader:   loader.New(),
		Ranker:   ranker,
		Executor: executor,
		Metrics:  f.metrics,
		Builder:  report.NewBuilder().WithClock(func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }),
		Settings: config.Defaults(),
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func placeholderRanker(t *testing.T) Ranker {
	t.Helper()
	r, err := llm.NewRanker(nil)
	require.NoError(t, err)
	return r
}

func TestNewEngine_InvalidDeps(t *testing.T) {
	valid := func() Deps {
		return Deps{
			Store:    NewMemoryRunStore(),
			Loader:   loader.New(),
			Ranker:   &mockRanker{},
			Executor: InlineExecutor{},
			Settings: config.Defaults(),
		}
	}

	tests := []struct {
		mutate func(d *Deps)
		name   string
		errMsg string
	}{
		{name: "missing store", mutate: func(d *Deps) { d.Store = nil }, errMsg: "run store"},
		{name: "missing loader", mutate: func(d *Deps) { d.Loader = nil }, errMsg: "dataset loader"},
		{name: "missing ranker", mutate: func(d *Deps) { d.Ranker = nil }, errMsg: "ranker"},
		{name: "missing executor", mutate: func(d *Deps) { d.Executor = nil }, errMsg: "executor"},
		{name: "invalid settings", mutate: func(d *Deps) { d.Settings.Thresholds.ReturnRate = 2 }, errMsg: "thresholds.return_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			_, err := NewEngine(d)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("defaults optional deps", func(t *testing.T) {
		e, err := NewEngine(valid())
		require.NoError(t, err)
		assert.NotNil(t, e.deps.Metrics)
		assert.NotNil(t, e.deps.Builder)
		assert.NotNil(t, e.logger)
	})
}

func TestEngine_SubmitCompletesRunWithPlaceholder(t *testing.T) {
	f := newEngineFixture(t, placeholderRanker(t), nil)
	ctx := context.Background()

	runID, err := f.engine.Submit(ctx, Submission{
		Orders:  strings.NewReader(ordersCSV),
		Returns: strings.NewReader(returnsCSV),
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := f.engine.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, run.Status)
	assert.Equal(t, Progress{Percent: 100, Label: LabelComplete}, run.Progress)
	require.NotNil(t, run.Report)

	rep := run.Report
	assert.Equal(t, runID, rep.RunID)
	assert.InDelta(t, 130.0, rep.Profiling.TotalRevenue, 1e-9)
	assert.InDelta(t, 26.0, rep.Profiling.AOV, 1e-9)
	assert.InDelta(t, 0.5769, rep.Profiling.TopSKURevenueShare.Top1, 1e-9)
	assert.Equal(t, model.RiskHigh, rep.Modules.RevenueDependencyRisk.RiskLevel)
	assert.Equal(t, 5, rep.DatasetSummary.OrdersRows)
	assert.Equal(t, 1, rep.DatasetSummary.ReturnsRows)
	assert.Equal(t, "CAD", rep.DatasetSummary.Currency)
	assert.Equal(t, "2024-01-01", rep.DatasetSummary.DateRange.Start)
	assert.Equal(t, "2024-01-05", rep.DatasetSummary.DateRange.End)
	assert.Contains(t, rep.DatasetSummary.Notes, loader.NoteNoRefundAmount)
	assert.Contains(t, rep.DatasetSummary.Notes, loader.NoteNoReturnAmount)

	require.Len(t, rep.DecisionOutput.RankedActions, 1)
	assert.Contains(t, rep.DecisionOutput.RankedActions[0].Title, "Configure OpenAI API key")
	assert.NotEmpty(t, rep.DecisionOutput.Limitations)
	assert.Empty(t, rep.Modules.ReturnsIntelligence.Themes)

	assert.Equal(t, 1, f.metrics.submitted)
	assert.Equal(t, []string{"done"}, f.metrics.finished)
	assert.Equal(t, []string{StageProfiling, StageReturns, StageDependency, StageRanking, StageReport}, f.metrics.stages)
}

func TestEngine_ProgressAdvancesThroughStages(t *testing.T) {
	f := newEngineFixture(t, placeholderRanker(t), nil)

	_, err := f.engine.Submit(context.Background(), Submission{Orders: strings.NewReader(ordersCSV)})
	require.NoError(t, err)

	assert.Equal(t, []Progress{
		{Percent: 15, Label: LabelProfiling},
		{Percent: 35, Label: LabelReturns},
		{Percent: 55, Label: LabelDependency},
		{Percent: 75, Label: LabelRanking},
		{Percent: 95, Label: LabelReport},
	}, f.store.updates)
}

func TestEngine_ValidationFailuresCreateNoRun(t *testing.T) {
	tests := []struct {
		sub     Submission
		name    string
		dataset string
		errMsg  string
	}{
		{
			name:    "orders missing sku",
			sub:     Submission{Orders: strings.NewReader("order_id,quantity,item_price\n1,1,10\n")},
			dataset: loader.OrdersDataset,
			errMsg:  "sku",
		},
		{
			name:    "orders missing",
			sub:     Submission{},
			dataset: loader.OrdersDataset,
			errMsg:  "file is required",
		},
		{
			name: "returns missing sku",
			sub: Submission{
				Orders:  strings.NewReader(ordersCSV),
				Returns: strings.NewReader("order_id,reason\n4,too small\n"),
			},
			dataset: loader.ReturnsDataset,
			errMsg:  "sku",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranker := &mockRanker{}
			f := newEngineFixture(t, ranker, nil)

			runID, err := f.engine.Submit(context.Background(), tt.sub)
			require.Error(t, err)
			assert.Empty(t, runID)

			var ve *common.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.dataset, ve.Dataset)
			assert.Contains(t, err.Error(), tt.errMsg)

			assert.Equal(t, 0, f.store.creates)
			assert.Equal(t, []string{tt.dataset}, f.metrics.rejected)
			assert.Equal(t, 0, f.metrics.submitted)
			ranker.AssertNotCalled(t, "RankActions", mock.Anything, mock.Anything)
		})
	}
}

func TestEngine_RankRequestCarriesGoalAndSignals(t *testing.T) {
	ranker := &mockRanker{}
	ranker.On("Available").Return(false).Maybe()
	ranker.On("RankActions", mock.Anything, mock.MatchedBy(func(req model.RankRequest) bool {
		return req.Goal == DefaultGoal &&
			req.Constraints == "no discounts" &&
			req.Profiling.TotalRevenue == 130 &&
			req.Dependency.RiskLevel == model.RiskHigh
	})).Return(model.DecisionOutput{
		RankedActions: []model.Action{{Rank: 1, Title: "Audit SKU B", ExpectedImpact: model.ImpactHigh}},
	}).Once()

	f := newEngineFixture(t, ranker, nil)
	runID, err := f.engine.Submit(context.Background(), Submission{
		Orders:      strings.NewReader(ordersCSV),
		Goal:        "   ",
		Constraints: "  no discounts ",
	})
	require.NoError(t, err)

	run, err := f.engine.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, run.Status)
	assert.Equal(t, "Audit SKU B", run.Report.DecisionOutput.RankedActions[0].Title)
	assert.NotNil(t, run.Report.DecisionOutput.Limitations)
	ranker.AssertExpectations(t)
}

func TestEngine_ClustersReasonsWhenAvailable(t *testing.T) {
	ranker := &mockRanker{}
	ranker.On("Available").Return(true)
	ranker.On("ClusterReasons", mock.Anything, []model.ReasonSample{{SKU: "B", Reason: "too small", Count: 1}}).
		Return([]model.Theme{{Theme: "Sizing", Examples: []string{"too small"}, SKUsAffected: []string{"B"}, Severity: 4}}, nil).
		Once()
	ranker.On("RankActions", mock.Anything, mock.Anything).Return(model.DecisionOutput{})

	f := newEngineFixture(t, ranker, nil)
	runID, err := f.engine.Submit(context.Background(), Submission{
		Orders:  strings.NewReader(ordersCSV),
		Returns: strings.NewReader(returnsCSV),
	})
	require.NoError(t, err)

	run, err := f.engine.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, run.Status)
	require.Len(t, run.Report.Modules.ReturnsIntelligence.Themes, 1)
	assert.Equal(t, "Sizing", run.Report.Modules.ReturnsIntelligence.Themes[0].Theme)
	assert.True(t, f.engine.LLMAvailable())
	ranker.AssertExpectations(t)
}

func TestEngine_PanicMovesRunToError(t *testing.T) {
	ranker := &mockRanker{}
	ranker.On("Available").Return(false).Maybe()
	ranker.On("RankActions", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("ranker exploded")
	})

	f := newEngineFixture(t, ranker, nil)
	runID, err := f.engine.Submit(context.Background(), Submission{Orders: strings.NewReader(ordersCSV)})
	require.NoError(t, err, "pipeline failures never surface at submission")

	run, err := f.engine.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, run.Status)
	assert.Contains(t, run.Error, "ranker exploded")
	assert.LessOrEqual(t, len([]rune(run.Error)), MaxErrorLength)
	assert.Equal(t, 0, run.Progress.Percent)
	assert.True(t, strings.HasPrefix(run.Progress.Label, "Critical System Error: "))
	assert.Nil(t, run.Report)
	assert.Equal(t, []string{"error"}, f.metrics.finished)

	summaries, err := f.engine.ListCompleted(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestEngine_StoreFailureMovesRunToError(t *testing.T) {
	f := newEngineFixture(t, placeholderRanker(t), nil)
	f.store.RunStore = &failingProgressStore{RunStore: f.store.RunStore}

	runID, err := f.engine.Submit(context.Background(), Submission{Orders: strings.NewReader(ordersCSV)})
	require.NoError(t, err)

	run, err := f.engine.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, run.Status)
	assert.Contains(t, run.Error, "progress store unavailable")
}

type failingProgressStore struct {
	RunStore
}

func (failingProgressStore) UpdateProgress(context.Context, string, Progress) error {
	return errors.New("progress store unavailable")
}

func TestEngine_AsyncLifecycleAndExport(t *testing.T) {
	release := make(chan struct{})
	ranker := &mockRanker{}
	ranker.On("Available").Return(false).Maybe()
	ranker.On("RankActions", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(model.DecisionOutput{RankedActions: []model.Action{{Rank: 1, Title: "Bundle"}}})

	executor := NewGoExecutor()
	f := newEngineFixture(t, ranker, executor)
	ctx := context.Background()

	runID, err := f.engine.Submit(ctx, Submission{Orders: strings.NewReader(ordersCSV)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		run, getErr := f.engine.GetRun(ctx, runID)
		return getErr == nil && run.Progress.Percent == 75
	}, 2*time.Second, 5*time.Millisecond)

	rep, run, err := f.engine.Export(ctx, runID)
	require.ErrorIs(t, err, common.ErrRunNotComplete)
	assert.Nil(t, rep)
	require.NotNil(t, run)
	assert.Equal(t, StatusProcessing, run.Status)
	assert.Equal(t, LabelRanking, run.Progress.Label)

	close(release)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, executor.Wait(waitCtx))

	rep, run, err = f.engine.Export(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, StatusDone, run.Status)
	assert.Equal(t, "Bundle", rep.DecisionOutput.RankedActions[0].Title)

	summaries, err := f.engine.ListCompleted(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, runID, summaries[0].RunID)
	assert.Equal(t, 5, summaries[0].OrdersRows)
	assert.InDelta(t, 130.0, summaries[0].TotalRevenue, 1e-9)
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	executor := NewGoExecutor()
	f := newEngineFixture(t, placeholderRanker(t), executor)
	ctx := context.Background()

	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		id, err := f.engine.Submit(ctx, Submission{Orders: strings.NewReader(ordersCSV)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, executor.Wait(waitCtx))

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "run ids are unique")
		seen[id] = true

		run, err := f.engine.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusDone, run.Status)
	}

	summaries, err := f.engine.ListCompleted(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 8)
}

func TestEngine_UnknownRun(t *testing.T) {
	f := newEngineFixture(t, placeholderRanker(t), nil)

	_, err := f.engine.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, _, err = f.engine.Export(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngine_SubmitOutlivesRequestContext(t *testing.T) {
	f := newEngineFixture(t, placeholderRanker(t), nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	f.engine.deps.Executor = executorFunc(func(fn func()) {
		cancel()
		fn()
	})

	runID, err := f.engine.Submit(reqCtx, Submission{Orders: strings.NewReader(ordersCSV)})
	require.NoError(t, err)

	run, err := f.engine.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, run.Status)
}

type executorFunc func(fn func())

func (f executorFunc) Go(fn func()) { f(fn) }
