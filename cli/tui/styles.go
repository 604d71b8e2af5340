// Package tui provides the Bubble Tea views of the arfor CLI.
//
// The TUI is opt-in (--tui) and shows the same session snapshots the plain
// output prints.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/arfor/types"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// MutedStyle for pending stages and details.
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// SuccessStyle for success states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for in-progress states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for error states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for stat display boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(18).
			Align(lipgloss.Center)

	// StatLabelStyle for stat labels.
	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	// StatValueStyle for stat values.
	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// PhaseStyle returns the style for a session phase.
func PhaseStyle(p types.Phase) lipgloss.Style {
	switch p {
	case types.PhaseComplete:
		return SuccessStyle
	case types.PhaseRunning:
		return WarningStyle
	case types.PhaseError:
		return ErrorStyle
	default:
		return MutedStyle
	}
}

// StageStyle returns the style for a stage status.
func StageStyle(s types.StageStatus) lipgloss.Style {
	switch s {
	case types.StageComplete:
		return SuccessStyle
	case types.StageRunning:
		return WarningStyle
	case types.StageError:
		return ErrorStyle
	default:
		return MutedStyle
	}
}

// StageMarker returns the one-cell marker drawn before a stage.
func StageMarker(s types.StageStatus) string {
	switch s {
	case types.StageComplete:
		return "✓"
	case types.StageRunning:
		return "●"
	case types.StageError:
		return "✗"
	default:
		return "○"
	}
}
