// Package cli provides terminal output helpers for the margin commands.
package cli

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	PrimaryColor = lipgloss.Color("#5FB3B3")
	SuccessColor = lipgloss.Color("#99C794")
	WarningColor = lipgloss.Color("#FAC863")
	ErrorColor   = lipgloss.Color("#EC5F67")
	InfoColor    = lipgloss.Color("#6699CC")
	SubtleColor  = lipgloss.Color("#65737E")
)

// Shared text styles. Report formatting builds on these.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor).
			Italic(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)
)

const (
	successIcon = "✓"
	warningIcon = "!"
	infoIcon    = "›"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(successIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(warningIcon + " " + message)
}

// FormatInfo formats an informational message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(infoIcon + " " + message)
}
