package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
)

// RunProgress renders a run's percentage and stage label as a progress bar.
type RunProgress struct {
	bar     *progressbar.ProgressBar
	label   string
	percent int
}

// NewRunProgress creates a 0-100 progress bar writing to w.
func NewRunProgress(w io.Writer) *RunProgress {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("[cyan][bold]Starting analysis...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return &RunProgress{bar: bar}
}

// Update moves the bar to percent and shows label. Lower percentages are
// ignored.
func (p *RunProgress) Update(percent int, label string) {
	if label != "" && label != p.label {
		p.label = label
		p.bar.Describe("[cyan][bold]" + label + "[reset]")
	}
	if percent <= p.percent {
		return
	}
	if percent > 100 {
		percent = 100
	}
	p.percent = percent
	if err := p.bar.Set(percent); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Percent returns the highest percentage shown so far.
func (p *RunProgress) Percent() int {
	return p.percent
}

// Finish completes the bar.
func (p *RunProgress) Finish() {
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}
