// Package tui implements the Bubble Tea live dashboard: current BPM, the
// normalized gauge, connection state, and an activity log fed by the event
// bus.
package tui

import "github.com/charmbracelet/lipgloss"

// Adaptive palette, readable on light and dark terminals.
var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleBPM   = lipgloss.NewStyle().Bold(true)
	styleGood  = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleBad   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarning)
	styleMuted = lipgloss.NewStyle().Foreground(colorMuted)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)
