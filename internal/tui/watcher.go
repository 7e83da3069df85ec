// Package tui renders a live terminal view of a margin run.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/common"
)

// DefaultInterval is the delay between polls.
const DefaultInterval = 500 * time.Millisecond

// maxPollFailures is how many consecutive failed polls end the watch.
const maxPollFailures = 5

// RunFetcher returns the current snapshot of a run.
type RunFetcher interface {
	Get(ctx context.Context, runID string) (*analysis.Run, error)
}

// Config holds the watcher's settings.
type Config struct {
	RunID    string
	Interval time.Duration
}

// Messages driving the watcher.
type (
	runFetchedMsg struct {
		run *analysis.Run
		err error
		seq int
	}
	pollMsg struct {
		seq int
	}
)

// Model is the bubbletea model for watching one run.
type Model struct {
	ctx      context.Context
	fetcher  RunFetcher
	run      *analysis.Run
	err      error
	styles   *analysis.Styles
	keymap   KeyMap
	spinner  spinner.Model
	progress progress.Model
	runID    string
	interval time.Duration
	failures int
	pollSeq  int
	width    int
	quitting bool
}

// NewModel creates a watcher for cfg.RunID.
func NewModel(ctx context.Context, fetcher RunFetcher, cfg Config) Model {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	s := spinner.New()
	s.Spinner = spinner.Dot

	prog := progress.New(progress.WithDefaultGradient())
	prog.ShowPercentage = false
	prog.Width = 40

	return Model{
		ctx:      ctx,
		fetcher:  fetcher,
		styles:   analysis.NewStyles(),
		keymap:   DefaultKeyMap(),
		spinner:  s,
		progress: prog,
		runID:    cfg.RunID,
		interval: cfg.Interval,
	}
}

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.ForceQuit), key.Matches(msg, m.keymap.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Refresh):
			// Supersede the pending tick so only one poll chain stays alive.
			m.pollSeq++
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(min(msg.Width-4, 60), 10)

	case pollMsg:
		if msg.seq != m.pollSeq {
			return m, nil
		}
		return m, m.fetch()

	case runFetchedMsg:
		return m.handleFetched(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleFetched(msg runFetchedMsg) (tea.Model, tea.Cmd) {
	current := msg.seq == m.pollSeq
	if msg.err != nil {
		m.err = msg.err
		m.failures++
		if errors.Is(msg.err, common.ErrNotFound) || m.failures >= maxPollFailures {
			return m, tea.Quit
		}
		if !current {
			return m, nil
		}
		return m, m.schedule()
	}

	m.run = msg.run
	m.err = nil
	m.failures = 0
	if m.run.Status.IsTerminal() {
		return m, tea.Quit
	}
	if !current {
		return m, nil
	}
	return m, m.schedule()
}

// View renders the run's current state.
func (m Model) View() string {
	if m.run == nil {
		line := fmt.Sprintf("%s Waiting for run %s...", m.spinner.View(), m.runID)
		if m.err != nil {
			line += "\n" + m.styles.Error.Render("Error: "+m.err.Error())
		}
		return line + "\n"
	}

	var b strings.Builder
	status := m.styles.ForStatus(m.run.Status).Render(string(m.run.Status))
	indicator := m.spinner.View()
	if m.run.Status.IsTerminal() {
		indicator = " "
	}
	fmt.Fprintf(&b, "%s %s %s\n\n", indicator, m.styles.Title.Render("Run "+m.run.RunID), status)
	fmt.Fprintf(&b, "%s %3d%%\n", m.progress.ViewAs(float64(m.run.Progress.Percent)/100), m.run.Progress.Percent)
	b.WriteString(m.styles.Subtle.Render(m.run.Progress.Label))
	b.WriteString("\n")

	if m.run.Error != "" {
		b.WriteString("\n" + m.styles.Error.Render("Error: "+m.run.Error) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + m.styles.Warning.Render(fmt.Sprintf("Poll failed (%d/%d): %v", m.failures, maxPollFailures, m.err)) + "\n")
	}
	if !m.run.Status.IsTerminal() && !m.quitting {
		b.WriteString("\n" + m.styles.Subtle.Render(m.keymap.Help()) + "\n")
	}
	return b.String()
}

// Run returns the last snapshot received, if any.
func (m Model) Run() *analysis.Run {
	return m.run
}

// Err returns the last poll error, if the watch ended on one.
func (m Model) Err() error {
	return m.err
}

// Stopped reports whether the user quit before the run finished.
func (m Model) Stopped() bool {
	return m.quitting
}

func (m Model) fetch() tea.Cmd {
	ctx, fetcher, runID, seq := m.ctx, m.fetcher, m.runID, m.pollSeq
	return func() tea.Msg {
		run, err := fetcher.Get(ctx, runID)
		return runFetchedMsg{run: run, err: err, seq: seq}
	}
}

func (m Model) schedule() tea.Cmd {
	seq := m.pollSeq
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return pollMsg{seq: seq}
	})
}

// Watch runs the watcher until the run reaches a terminal state, polling
// fails for good, or the user quits. It returns the last snapshot seen.
func Watch(ctx context.Context, fetcher RunFetcher, cfg Config, opts ...tea.ProgramOption) (*analysis.Run, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewModel(ctx, fetcher, cfg), opts...).Run()
	if err != nil {
		return nil, fmt.Errorf("watcher failed: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected model type %T", final)
	}
	if m.err != nil {
		return m.run, m.err
	}
	return m.run, nil
}

func joinHints(parts []string) string {
	return strings.Join(parts, " • ")
}
