// Package ui is the terminal browser of the navigation tree: it lists the
// shown nodes with their counts and sync markers and lets the user expand,
// collapse and flag them.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/navtree"
)

// callTimeout bounds each round trip to the owner loop.
const callTimeout = 2 * time.Second

type rowsMsg struct {
	rows []Row
	err  error
}

type treeChangedMsg struct{}

// Model is the bubbletea model of the browser.
type Model struct {
	driver  Driver
	keys    KeyMap
	theme   Theme
	ui      config.UIConfig
	changes chan struct{}
	unsub   func()

	rows     []Row
	cursor   int
	selected string
	viewport viewport.Model
	width    int
	height   int
	err      error
	loaded   bool

	log *eventlog.Logger
}

// NewModel returns a browser over the tree driven by d. It subscribes to
// tree events; Close removes the subscription.
func NewModel(d Driver, ui config.UIConfig, theme Theme) (*Model, error) {
	m := &Model{
		driver:   d,
		keys:     DefaultKeyMap,
		theme:    theme,
		ui:       ui,
		changes:  make(chan struct{}, 1),
		viewport: viewport.New(80, 20),
		log:      eventlog.For("ui"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	err := d.Do(ctx, func(t *navtree.Tree) {
		m.unsub = t.Subscribe(func(navtree.Event) { m.signal() })
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to tree: %w", err)
	}
	return m, nil
}

// signal records that the tree changed. Bursts of events collapse into one
// pending reload.
func (m *Model) signal() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Close removes the tree subscription.
func (m *Model) Close() {
	if m.unsub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	unsub := m.unsub
	m.unsub = nil
	_ = m.driver.Do(ctx, func(*navtree.Tree) { unsub() })
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.listen())
}

// listen blocks until the tree reports a change.
func (m *Model) listen() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return treeChangedMsg{}
	}
}

// load takes a row snapshot on the owner loop.
func (m *Model) load() tea.Cmd {
	d := m.driver
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		var rows []Row
		err := d.Do(ctx, func(t *navtree.Tree) { rows = Snapshot(t) })
		return rowsMsg{rows: rows, err: err}
	}
}

// act runs f against the selected node on the owner loop. The resulting
// tree events trigger the reload.
func (m *Model) act(f func(t *navtree.Tree, n *navtree.Node)) tea.Cmd {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	n := m.rows[m.cursor].node
	d := m.driver
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		err := d.Do(ctx, func(t *navtree.Tree) {
			if n.IsAttached() {
				f(t, n)
			}
		})
		if err != nil {
			return rowsMsg{err: err}
		}
		return nil
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = m.bodyHeight()
		m.refreshViewport()
		return m, nil

	case treeChangedMsg:
		return m, tea.Batch(m.load(), m.listen())

	case rowsMsg:
		if msg.err != nil {
			m.err = msg.err
			m.log.Warn("snapshot_failed", eventlog.Fields{"error": msg.err})
			return m, nil
		}
		m.err = nil
		m.setRows(msg.rows)
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	page := m.viewport.Height
	if page < 1 {
		page = 1
	}
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.moveTo(m.cursor - 1)
	case key.Matches(msg, m.keys.Down):
		m.moveTo(m.cursor + 1)
	case key.Matches(msg, m.keys.PageUp):
		m.moveTo(m.cursor - page)
	case key.Matches(msg, m.keys.PageDown):
		m.moveTo(m.cursor + page)
	case key.Matches(msg, m.keys.Home):
		m.moveTo(0)
	case key.Matches(msg, m.keys.End):
		m.moveTo(len(m.rows) - 1)
	case key.Matches(msg, m.keys.Right):
		if r, ok := m.current(); ok && r.HasChildren {
			if !r.Expanded {
				return m.act(func(_ *navtree.Tree, n *navtree.Node) { n.SetExpanded(true) })
			}
			m.moveTo(m.cursor + 1)
		}
	case key.Matches(msg, m.keys.Left):
		if r, ok := m.current(); ok {
			if r.Expanded && r.HasChildren {
				return m.act(func(_ *navtree.Tree, n *navtree.Node) { n.SetExpanded(false) })
			}
			if p := parentIndex(m.rows, m.cursor); p >= 0 {
				m.moveTo(p)
			}
		}
	case key.Matches(msg, m.keys.Toggle):
		if r, ok := m.current(); ok && r.HasChildren {
			expand := !r.Expanded
			return m.act(func(_ *navtree.Tree, n *navtree.Node) { n.SetExpanded(expand) })
		}
	case key.Matches(msg, m.keys.Sync):
		if r, ok := m.current(); ok {
			flag := !r.Flagged
			return m.act(func(_ *navtree.Tree, n *navtree.Node) { n.SetSyncFlag(flag, false) })
		}
	case key.Matches(msg, m.keys.HideEmpty):
		if r, ok := m.current(); ok && r.Kind == navtree.KindDistributionFolder.String() {
			return m.act(func(_ *navtree.Tree, n *navtree.Node) {
				params, _ := n.Distribution()
				n.SetHideEmptyChildren(!params.HideEmpty)
			})
		}
	case key.Matches(msg, m.keys.Refresh):
		return m.act(func(t *navtree.Tree, _ *navtree.Node) { t.DatabaseChanged("") })
	}
	return nil
}

func (m *Model) current() (Row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return Row{}, false
	}
	return m.rows[m.cursor], true
}

func (m *Model) moveTo(i int) {
	if len(m.rows) == 0 {
		m.cursor = 0
		return
	}
	m.cursor = max(0, min(i, len(m.rows)-1))
	m.selected = m.rows[m.cursor].ID
	m.refreshViewport()
}

// setRows replaces the rows, keeping the selection on the same node when
// it is still shown.
func (m *Model) setRows(rows []Row) {
	m.rows = rows
	m.loaded = true
	if i := indexOf(rows, m.selected); i >= 0 {
		m.cursor = i
	} else {
		m.cursor = max(0, min(m.cursor, len(rows)-1))
		if len(rows) > 0 {
			m.selected = rows[m.cursor].ID
		}
	}
	m.refreshViewport()
}

func (m *Model) bodyHeight() int {
	// header and footer
	return max(1, m.height-2)
}

func (m *Model) refreshViewport() {
	lines := make([]string, len(m.rows))
	for i, r := range m.rows {
		lines[i] = m.renderRow(r, i == m.cursor)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))

	h := m.viewport.Height
	switch {
	case m.cursor < m.viewport.YOffset:
		m.viewport.SetYOffset(m.cursor)
	case h > 0 && m.cursor >= m.viewport.YOffset+h:
		m.viewport.SetYOffset(m.cursor - h + 1)
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")
	switch {
	case !m.loaded:
		sb.WriteString(m.theme.MutedText.Render("Loading…"))
	case len(m.rows) == 0:
		sb.WriteString(m.theme.MutedText.Render("No connections. Add one to ~/.config/beadnav/config.yaml."))
	default:
		sb.WriteString(m.viewport.View())
	}
	sb.WriteString("\n")
	sb.WriteString(m.renderFooter())
	return sb.String()
}

func (m *Model) renderHeader() string {
	title := "beadnav"
	if r, ok := m.current(); ok {
		title += "  " + r.Name
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	return m.theme.Header.Width(width).Render(truncateRunesHelper(title, width-2, "…"))
}

func (m *Model) renderFooter() string {
	if m.err != nil {
		return m.theme.ErrorText.Render("error: " + m.err.Error())
	}
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	if len(m.rows) > m.viewport.Height && m.viewport.Height > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d", m.cursor+1, len(m.rows)))
	}
	return m.theme.MutedText.Render(strings.Join(parts, " · "))
}
