package analysis

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/margin-intel/internal/cli"
	"github.com/Veraticus/margin-intel/internal/model"
)

// Styles contains all styling definitions for report formatting.
type Styles struct {
	// Base styles from CLI package
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Info     lipgloss.Style
	Subtle   lipgloss.Style
	Normal   lipgloss.Style

	// Report-specific styles
	Box       lipgloss.Style
	Metric    lipgloss.Style
	High      lipgloss.Style
	Medium    lipgloss.Style
	Low       lipgloss.Style
	RiskBox   lipgloss.Style
	ActionBox lipgloss.Style
}

// NewStyles creates a new Styles instance with default styling.
func NewStyles() *Styles {
	s := &Styles{
		Title:    cli.TitleStyle,
		Subtitle: cli.SubtitleStyle,
		Success:  cli.SuccessStyle,
		Warning:  cli.WarningStyle,
		Error:    cli.ErrorStyle,
		Info:     cli.InfoStyle,
		Subtle:   cli.SubtleStyle,
		Normal:   lipgloss.NewStyle(),
	}

	s.Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(cli.SubtleColor).
		Padding(0, 1)

	s.Metric = lipgloss.NewStyle().
		Bold(true).
		Foreground(cli.PrimaryColor)

	s.High = lipgloss.NewStyle().
		Bold(true).
		Foreground(cli.ErrorColor)

	s.Medium = lipgloss.NewStyle().
		Foreground(cli.WarningColor)

	s.Low = lipgloss.NewStyle().
		Foreground(cli.SuccessColor)

	s.RiskBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(cli.WarningColor).
		Padding(0, 1).
		MarginTop(1)

	s.ActionBox = lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(cli.InfoColor).
		Padding(0, 1).
		MarginTop(1)

	return s
}

// WithWidth returns a copy whose boxes fit a terminal of the given width.
func (s *Styles) WithWidth(width int) *Styles {
	newStyles := *s
	if width > 0 && width < 100 {
		newStyles.Box = s.Box.Width(width - 4)
		newStyles.RiskBox = s.RiskBox.Width(width - 4)
		newStyles.ActionBox = s.ActionBox.Width(width - 4)
	}
	return &newStyles
}

// ForLevel returns the style for a low/medium/high rating.
func (s *Styles) ForLevel(level string) lipgloss.Style {
	switch strings.ToLower(level) {
	case string(model.RiskHigh):
		return s.High
	case string(model.RiskMedium):
		return s.Medium
	case string(model.RiskLow):
		return s.Low
	default:
		return s.Normal
	}
}

// ForStatus returns the style for a run status.
func (s *Styles) ForStatus(status Status) lipgloss.Style {
	switch status {
	case StatusDone:
		return s.Success
	case StatusError:
		return s.Error
	default:
		return s.Info
	}
}

// RenderBox renders content in a styled box with optional title.
func (s *Styles) RenderBox(content string, title string, style lipgloss.Style) string {
	if title != "" {
		titleStyled := s.Info.Bold(true).Render(" " + title + " ")
		return style.Render(titleStyled + "\n" + content)
	}
	return style.Render(content)
}
