package ui

import "github.com/charmbracelet/lipgloss"

// Theme holds the colors and pre-computed styles of the browser.
type Theme struct {
	Renderer *lipgloss.Renderer

	// Colors
	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Muted     lipgloss.AdaptiveColor
	Highlight lipgloss.AdaptiveColor

	// Sync state
	Synced   lipgloss.AdaptiveColor
	Unsynced lipgloss.AdaptiveColor
	Flagged  lipgloss.AdaptiveColor
	Error    lipgloss.AdaptiveColor

	// Node kinds
	Connection   lipgloss.AdaptiveColor
	Folder       lipgloss.AdaptiveColor
	Query        lipgloss.AdaptiveColor
	Distribution lipgloss.AdaptiveColor
	Group        lipgloss.AdaptiveColor

	// Styles, created once instead of per frame
	Base      lipgloss.Style
	Selected  lipgloss.Style
	Header    lipgloss.Style
	MutedText lipgloss.Style
	CountText lipgloss.Style
	ErrorText lipgloss.Style
	Removed   lipgloss.Style
}

// DefaultTheme returns the Dracula-inspired adaptive theme.
func DefaultTheme(r *lipgloss.Renderer) Theme {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	t := Theme{
		Renderer: r,

		Primary:   lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"},
		Secondary: lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"},
		Muted:     lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"},
		Highlight: lipgloss.AdaptiveColor{Light: "#E0E0E0", Dark: "#44475A"},

		Synced:   lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"},
		Unsynced: lipgloss.AdaptiveColor{Light: "#888888", Dark: "#44475A"},
		Flagged:  lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#6699FF"},
		Error:    lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"},

		Connection:   lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"},
		Folder:       lipgloss.AdaptiveColor{Light: "#B06800", Dark: "#FFB86C"},
		Query:        lipgloss.AdaptiveColor{Light: "#2684FF", Dark: "#4C9AFF"},
		Distribution: lipgloss.AdaptiveColor{Light: "#36B37E", Dark: "#57D9A3"},
		Group:        lipgloss.AdaptiveColor{Light: "#006080", Dark: "#8BE9FD"},
	}

	t.Base = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#F8F8F2"})
	t.Selected = r.NewStyle().
		Background(t.Highlight).
		Bold(true)
	t.Header = r.NewStyle().
		Background(t.Primary).
		Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#282A36"}).
		Bold(true).
		Padding(0, 1)
	t.MutedText = r.NewStyle().Foreground(t.Muted)
	t.CountText = r.NewStyle().Foreground(t.Secondary)
	t.ErrorText = r.NewStyle().Foreground(t.Error).Bold(true)
	t.Removed = r.NewStyle().Foreground(t.Muted).Italic(true)
	return t
}

// KindColor returns the color of a node kind.
func (t Theme) KindColor(k string) lipgloss.AdaptiveColor {
	switch k {
	case "connection":
		return t.Connection
	case "folder":
		return t.Folder
	case "query":
		return t.Query
	case "distribution":
		return t.Distribution
	case "group":
		return t.Group
	}
	return t.Secondary
}
