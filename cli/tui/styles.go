// Package tui is the interactive terminal front end: a splash screen until
// the backend is revealed, then the main view with the file list, transfer
// progress and the diagnostic log.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/nimbus/types"
)

// Palette. Adaptive colors keep text readable on light terminals.
var (
	skyColor   = lipgloss.AdaptiveColor{Light: "#0369A1", Dark: "#38BDF8"}
	okColor    = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	warnColor  = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	failColor  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	dimColor   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	plainColor = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
)

var (
	TitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(skyColor)
	LabelStyle    = lipgloss.NewStyle().Foreground(dimColor)
	ValueStyle    = lipgloss.NewStyle().Foreground(plainColor)
	SuccessStyle  = lipgloss.NewStyle().Foreground(okColor)
	WarningStyle  = lipgloss.NewStyle().Foreground(warnColor)
	ErrorStyle    = lipgloss.NewStyle().Foreground(failColor)
	SelectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
	HelpStyle     = LabelStyle.MarginTop(1)

	// BoxStyle frames the file list, transfers and log panes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor).
			Padding(0, 1)

	// SplashStyle is shown until the backend is revealed.
	SplashStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(skyColor).
			Padding(1, 6).
			Align(lipgloss.Center)
)

// StateStyle returns the status light style for a readiness state.
// A degraded session shows amber even though it is still starting.
func StateStyle(state types.ReadinessState, degraded bool) lipgloss.Style {
	switch {
	case state == types.ReadinessReady:
		return SuccessStyle
	case state == types.ReadinessFailed:
		return ErrorStyle
	case degraded:
		return WarningStyle
	default:
		return LabelStyle
	}
}

// lineStyle colors a diagnostic log line by origin.
func lineStyle(line types.LogLine) lipgloss.Style {
	switch {
	case line.Source == types.LogSourceStderr:
		return WarningStyle
	case line.Source == types.LogSourceSystem && isCritical(line.Text):
		return ErrorStyle
	case line.Source == types.LogSourceSystem:
		return LabelStyle
	default:
		return ValueStyle
	}
}
