package analysis

import (
	"context"

	"github.com/sourcegraph/conc"
)

// Executor schedules run pipelines. Go must not block on fn.
type Executor interface {
	Go(fn func())
}

// GoExecutor runs each pipeline on its own goroutine.
type GoExecutor struct {
	wg conc.WaitGroup
}

// NewGoExecutor creates a GoExecutor.
func NewGoExecutor() *GoExecutor {
	return &GoExecutor{}
}

// Go starts fn on a new goroutine.
func (e *GoExecutor) Go(fn func()) {
	e.wg.Go(fn)
}

// Wait blocks until every scheduled pipeline has returned or ctx is done.
func (e *GoExecutor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Pipelines recover their own panics; anything left here is reported
		// by the pipeline's logger already.
		_ = e.wg.WaitAndRecover()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InlineExecutor runs fn on the caller's goroutine.
type InlineExecutor struct{}

// Go runs fn and returns when it finishes.
func (InlineExecutor) Go(fn func()) {
	fn()
}
