package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/report"
)

// RunStore persists run state for the lifetime of the process.
//
// UpdateProgress never lowers a run's percentage and is a no-op for runs in
// a terminal state. Complete and Fail succeed only from StatusProcessing and
// return common.ErrTerminalState otherwise. Unknown ids yield
// common.ErrNotFound. Every returned Run is a copy the caller owns.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, runID string) (*Run, error)
	UpdateProgress(ctx context.Context, runID string, progress Progress) error
	Complete(ctx context.Context, runID string, rep *report.Report) error
	Fail(ctx context.Context, runID string, message string) error
	ListCompleted(ctx context.Context) ([]RunSummary, error)
}

var _ RunStore = (*MemoryRunStore)(nil)

// MemoryRunStore implements RunStore with a mutex-guarded map.
type MemoryRunStore struct {
	runs map[string]*Run
	now  func() time.Time
	mu   sync.RWMutex
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create records a new run.
func (s *MemoryRunStore) Create(ctx context.Context, run *Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if run.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return fmt.Errorf("run already exists: %s", run.RunID)
	}
	stored, err := run.clone()
	if err != nil {
		return err
	}
	s.runs[run.RunID] = stored
	return nil
}

// Get returns a snapshot of a run.
func (s *MemoryRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	return run.clone()
}

// UpdateProgress advances a processing run's progress.
func (s *MemoryRunStore) UpdateProgress(ctx context.Context, runID string, progress Progress) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	if run.Status.IsTerminal() || progress.Percent < run.Progress.Percent {
		return nil
	}
	run.Progress = progress
	return nil
}

// Complete moves a run to StatusDone with its report.
func (s *MemoryRunStore) Complete(ctx context.Context, runID string, rep *report.Report) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rep == nil {
		return fmt.Errorf("report cannot be nil")
	}
	stored, err := cloneReport(rep)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.processing(runID)
	if err != nil {
		return err
	}
	finished := s.now()
	run.Status = StatusDone
	run.Report = stored
	run.Progress = Progress{Percent: 100, Label: LabelComplete}
	run.FinishedAt = &finished
	return nil
}

// Fail moves a run to StatusError.
func (s *MemoryRunStore) Fail(ctx context.Context, runID string, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.processing(runID)
	if err != nil {
		return err
	}
	message = common.Truncate(message, MaxErrorLength)
	finished := s.now()
	run.Status = StatusError
	run.Error = message
	run.Progress = failureProgress(message)
	run.FinishedAt = &finished
	return nil
}

// ListCompleted returns summaries of done runs, newest first.
func (s *MemoryRunStore) ListCompleted(ctx context.Context) ([]RunSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		if run.Status == StatusDone {
			summaries = append(summaries, run.Summary())
		}
	}
	sortSummaries(summaries)
	return summaries, nil
}

// processing returns the stored run if it may still transition.
// Callers must hold the write lock.
func (s *MemoryRunStore) processing(runID string) (*Run, error) {
	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, common.ErrTerminalState)
	}
	return run, nil
}

func sortSummaries(summaries []RunSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].GeneratedAt.Equal(summaries[j].GeneratedAt) {
			return summaries[i].GeneratedAt.After(summaries[j].GeneratedAt)
		}
		return summaries[i].RunID < summaries[j].RunID
	})
}

// validateContext rejects nil or already-canceled contexts.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
