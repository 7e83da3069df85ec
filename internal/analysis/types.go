// Package analysis runs the margin pipeline asynchronously and tracks each
// run's lifecycle from submission to a terminal state.
package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/report"
)

// Status represents the current state of a run.
type Status string

const (
	// StatusProcessing indicates the pipeline is still executing.
	StatusProcessing Status = "processing"
	// StatusDone indicates the run completed and holds a report.
	StatusDone Status = "done"
	// StatusError indicates the pipeline failed.
	StatusError Status = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// Progress labels emitted while a run executes.
const (
	LabelSubmitted  = "Synchronizing data streams"
	LabelProfiling  = "Executing contribution models"
	LabelReturns    = "Correlating return signatures"
	LabelDependency = "Mapping revenue dependency risk"
	LabelRanking    = "Synthesizing LLM intelligence"
	LabelReport     = "Finalizing strategic report"
	LabelComplete   = "Analysis complete"

	failureLabelPrefix = "Critical System Error: "
)

const (
	// MaxErrorLength bounds the error message stored on a failed run.
	MaxErrorLength = 300
	// maxFailureLabel bounds the error excerpt carried in the progress label.
	maxFailureLabel = 50
)

// DefaultGoal is used when a submission carries no business goal.
const DefaultGoal = "Maximize contribution margin"

// Progress is a run's completion percentage and a human label.
type Progress struct {
	Label   string `json:"label"`
	Percent int    `json:"percent"`
}

// failureProgress is the progress a run shows once it has failed.
func failureProgress(msg string) Progress {
	return Progress{Percent: 0, Label: failureLabelPrefix + common.Truncate(msg, maxFailureLabel)}
}

// Run is a snapshot of one pipeline execution.
type Run struct {
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Report     *report.Report `json:"report,omitempty"`
	RunID      string         `json:"run_id"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Progress   Progress       `json:"progress"`
}

// Summary returns the listing entry for a completed run.
func (r *Run) Summary() RunSummary {
	s := RunSummary{RunID: r.RunID}
	if r.Report != nil {
		s.GeneratedAt = r.Report.GeneratedAt
		s.OrdersRows = r.Report.DatasetSummary.OrdersRows
		s.ReturnsRows = r.Report.DatasetSummary.ReturnsRows
		s.TotalRevenue = r.Report.Profiling.TotalRevenue
	}
	return s
}

// clone returns a deep copy of r so callers never share state with a store.
func (r *Run) clone() (*Run, error) {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	rep, err := cloneReport(r.Report)
	if err != nil {
		return nil, err
	}
	c.Report = rep
	return &c, nil
}

// cloneReport deep-copies a report through its wire form.
func cloneReport(rep *report.Report) (*report.Report, error) {
	if rep == nil {
		return nil, nil
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("failed to copy report: %w", err)
	}
	var c report.Report
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to copy report: %w", err)
	}
	return &c, nil
}

// RunSummary is the lightweight metadata listed for completed runs.
type RunSummary struct {
	GeneratedAt  time.Time `json:"generated_at"`
	RunID        string    `json:"run_id"`
	OrdersRows   int       `json:"orders_rows"`
	ReturnsRows  int       `json:"returns_rows"`
	TotalRevenue float64   `json:"total_revenue"`
}

// Submission is one request to analyze a dataset pair.
type Submission struct {
	// Orders is the required orders CSV.
	Orders io.Reader
	// Returns is the optional returns CSV.
	Returns io.Reader
	// Goal is the business goal; DefaultGoal when empty.
	Goal string
	// Constraints are free-text limits passed to the action ranker.
	Constraints string
}
