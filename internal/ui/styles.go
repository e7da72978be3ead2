// Package ui implements the interactive picker behind "tx tui".
//
// The picker lists launch targets (providers, profiles and virtual prompt
// profiles) on one page and recorded sessions on another. It only selects;
// the caller compiles and runs whatever was picked.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	Accent      = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	Muted       = lipgloss.AdaptiveColor{Light: "#6a737d", Dark: "#8b949e"}
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
)

// Styles groups the picker's lipgloss styles.
type Styles struct {
	Title    lipgloss.Style
	Tab      lipgloss.Style
	TabFocus lipgloss.Style
	Status   lipgloss.Style
	Error    lipgloss.Style
	Warn     lipgloss.Style
	Help     lipgloss.Style
}

// DefaultStyles returns the default picker styles.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Tab:      lipgloss.NewStyle().Padding(0, 1).Foreground(Muted),
		TabFocus: lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true).Foreground(Accent),
		Status:   lipgloss.NewStyle().Foreground(Muted),
		Error:    lipgloss.NewStyle().Foreground(Destructive),
		Warn:     lipgloss.NewStyle().Foreground(Warning),
		Help:     lipgloss.NewStyle().Foreground(Muted).Italic(true),
	}
}
