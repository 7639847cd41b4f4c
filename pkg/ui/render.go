package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// countWidth is the column reserved for counts, right aligned.
const countWidth = 7

// renderRow renders one row: [tree prefix] [expand] [sync] [name] [count].
func (m *Model) renderRow(r Row, selected bool) string {
	t := m.theme
	width := m.width
	if width <= 0 {
		width = 80
	}
	// Reduce width by 1 to prevent terminal wrapping on the exact edge
	width--

	prefix := TreePrefix(r, m.ui.IndentWidth)
	left := t.MutedText.Render(prefix) + expandIndicator(r) + " "
	if m.ui.ShowSync {
		left += m.syncMarker(r) + " "
	}

	right := ""
	if m.ui.ShowCounts {
		right = t.CountText.Render(padLeft(CountLabel(r), countWidth))
	}

	nameWidth := width - lipgloss.Width(left) - lipgloss.Width(right) - 1
	name := truncateRunesHelper(r.Name, nameWidth, "…")
	var nameStyle lipgloss.Style
	switch {
	case r.FilterErr != "":
		nameStyle = t.ErrorText
	case r.Removed:
		nameStyle = t.Removed
	default:
		nameStyle = t.Renderer.NewStyle().Foreground(t.KindColor(r.Kind))
		if r.Kind == "connection" {
			nameStyle = nameStyle.Bold(true)
		}
	}
	name = nameStyle.Render(name)

	gap := width - lipgloss.Width(left) - lipgloss.Width(name) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	row := left + name + strings.Repeat(" ", gap) + right
	if selected {
		row = t.Selected.Render(row)
	}
	return t.Renderer.NewStyle().MaxWidth(width).Render(row)
}

// TreePrefix builds the indentation and branch characters for a row.
func TreePrefix(r Row, indent int) string {
	if r.Depth <= 0 {
		return ""
	}
	if indent < 1 {
		indent = 1
	}
	var sb strings.Builder
	// Branches[0] is the top level, drawn without a guide.
	for _, more := range r.Branches[1 : len(r.Branches)-1] {
		if more {
			sb.WriteString("│" + strings.Repeat(" ", indent))
		} else {
			sb.WriteString(strings.Repeat(" ", indent+1))
		}
	}
	if r.Branches[len(r.Branches)-1] {
		sb.WriteString("├" + strings.Repeat("─", indent-1) + " ")
	} else {
		sb.WriteString("└" + strings.Repeat("─", indent-1) + " ")
	}
	return sb.String()
}

func expandIndicator(r Row) string {
	if !r.HasChildren {
		return "•"
	}
	if r.Expanded {
		return "▾"
	}
	return "▸"
}

func (m *Model) syncMarker(r Row) string {
	t := m.theme
	g := SyncGlyph(r)
	switch {
	case !r.Ready:
		return t.ErrorText.Render(g)
	case r.Flagged:
		return t.Renderer.NewStyle().Foreground(t.Flagged).Render(g)
	case r.Synced:
		return t.Renderer.NewStyle().Foreground(t.Synced).Render(g)
	}
	return t.Renderer.NewStyle().Foreground(t.Unsynced).Render(g)
}

// SyncGlyph is the marker for the sync state of a row: not ready, flagged,
// synchronized or not synchronized.
func SyncGlyph(r Row) string {
	switch {
	case !r.Ready:
		return "✗"
	case r.Flagged:
		return "◆"
	case r.Synced:
		return "●"
	}
	return "○"
}

// CountLabel formats the count column: the number, "…" while the first
// count is computed, a trailing "~" while a known count is refreshed.
func CountLabel(r Row) string {
	switch {
	case !r.Ready:
		return "-"
	case r.Count < 0 && r.Pending:
		return "…"
	case r.Count < 0:
		return ""
	case r.Pending:
		return strconv.Itoa(r.Count) + "~"
	}
	return strconv.Itoa(r.Count)
}

// truncateRunesHelper truncates a string to max visual width (cells), adding suffix if needed.
// Uses go-runewidth to handle wide characters correctly.
func truncateRunesHelper(s string, maxWidth int, suffix string) string {
	if maxWidth <= 0 {
		return ""
	}

	width := runewidth.StringWidth(s)
	if width <= maxWidth {
		return s
	}

	suffixWidth := runewidth.StringWidth(suffix)
	if suffixWidth > maxWidth {
		// Even suffix is too wide, truncate suffix
		return runewidth.Truncate(suffix, maxWidth, "")
	}

	targetWidth := maxWidth - suffixWidth
	return runewidth.Truncate(s, targetWidth, "") + suffix
}

// padLeft pads s with spaces on the left to the given visual width.
func padLeft(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}
