package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/beadnav/pkg/clock"
	"github.com/vanderheijden86/beadnav/pkg/config"
	"github.com/vanderheijden86/beadnav/pkg/model"
	"github.com/vanderheijden86/beadnav/pkg/navtree"
)

// loopDriver runs calls inline and drains the posted work afterwards.
type loopDriver struct {
	tree *navtree.Tree
	exec *navtree.ManualExecutor
}

func (d *loopDriver) Do(_ context.Context, f func(*navtree.Tree)) error {
	f(d.tree)
	d.exec.Drain()
	return nil
}

type fixture struct {
	driver *loopDriver
	conn   *navtree.Node
	triage *navtree.Node
	open   *navtree.Node
	later  *navtree.Node
}

// newFixture builds:
//
//	work (expanded)
//	├─ Triage (expanded)
//	│  └─ Open
//	└─ Later
//	   └─ Someday
func newFixture(t *testing.T) *fixture {
	t.Helper()
	exec := &navtree.ManualExecutor{}
	tree := navtree.New(exec, navtree.WithClock(clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	t.Cleanup(tree.Close)

	f := &fixture{driver: &loopDriver{tree: tree, exec: exec}}
	f.conn = tree.AddConnection(model.NewConnection("work", t.TempDir()), nil)
	f.conn.SetExpanded(true)
	var err error
	if f.triage, err = tree.AddFolder(f.conn, "Triage"); err != nil {
		t.Fatal(err)
	}
	f.triage.SetExpanded(true)
	if f.open, err = tree.AddQuery(f.triage, "Open", "status = open"); err != nil {
		t.Fatal(err)
	}
	if f.later, err = tree.AddFolder(f.conn, "Later"); err != nil {
		t.Fatal(err)
	}
	if _, err = tree.AddQuery(f.later, "Someday", "status = deferred"); err != nil {
		t.Fatal(err)
	}
	exec.Drain()
	return f
}

func newTestModel(t *testing.T, f *fixture) *Model {
	t.Helper()
	ui := config.DefaultConfig().UI
	m, err := NewModel(f.driver, ui, DefaultTheme(lipgloss.NewRenderer(&bytes.Buffer{})))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 12})
	reload(m)
	return m
}

// reload runs the snapshot command synchronously.
func reload(m *Model) {
	m.Update(m.load()())
}

// run executes cmd and feeds its message back, then reloads.
func run(m *Model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if msg := cmd(); msg != nil {
		m.Update(msg)
	}
	reload(m)
}

func press(m *Model, k tea.KeyMsg) {
	_, cmd := m.Update(k)
	run(m, cmd)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func rowNames(m *Model) []string {
	out := make([]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.Name
	}
	return out
}

func TestSnapshot_ListsExpandedNodes(t *testing.T) {
	f := newFixture(t)
	var rows []Row
	f.driver.Do(context.Background(), func(tree *navtree.Tree) { rows = Snapshot(tree) })

	want := []struct {
		name     string
		depth    int
		branches []bool
	}{
		{"work", 0, []bool{false}},
		{"Triage", 1, []bool{false, true}},
		{"Open", 2, []bool{false, true, false}},
		{"Later", 1, []bool{false, false}},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v, want %d rows", rows, len(want))
	}
	for i, w := range want {
		r := rows[i]
		if r.Name != w.name || r.Depth != w.depth {
			t.Errorf("row %d = %s@%d, want %s@%d", i, r.Name, r.Depth, w.name, w.depth)
		}
		if len(r.Branches) != len(w.branches) {
			t.Errorf("row %d branches = %v, want %v", i, r.Branches, w.branches)
			continue
		}
		for j := range w.branches {
			if r.Branches[j] != w.branches[j] {
				t.Errorf("row %d branches = %v, want %v", i, r.Branches, w.branches)
				break
			}
		}
	}
	if rows[2].Path != "work/Triage/Open" {
		t.Errorf("path = %q, want work/Triage/Open", rows[2].Path)
	}
	if rows[0].Ready {
		t.Error("connection without database should not be ready")
	}
	if !rows[3].HasChildren || rows[3].Expanded {
		t.Errorf("Later row = %+v, want collapsed with children", rows[3])
	}
}

func TestTreePrefix(t *testing.T) {
	tests := []struct {
		branches []bool
		want     string
	}{
		{[]bool{true}, ""},
		{[]bool{false, true}, "├─ "},
		{[]bool{false, false}, "└─ "},
		{[]bool{false, true, false}, "│  └─ "},
		{[]bool{true, false, true}, "   ├─ "},
	}
	for _, tt := range tests {
		r := Row{Depth: len(tt.branches) - 1, Branches: tt.branches}
		if got := TreePrefix(r, 2); got != tt.want {
			t.Errorf("treePrefix(%v) = %q, want %q", tt.branches, got, tt.want)
		}
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want string
	}{
		{"not ready", Row{Count: 5}, "-"},
		{"first count", Row{Ready: true, Count: -1, Pending: true}, "…"},
		{"unknown", Row{Ready: true, Count: -1}, ""},
		{"refreshing", Row{Ready: true, Count: 12, Pending: true}, "12~"},
		{"known", Row{Ready: true, Count: 0}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountLabel(tt.row); got != tt.want {
				t.Errorf("CountLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateRunesHelper(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"distribution", 6, "distr…"},
		{"日本語のラベル", 7, "日本語…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := truncateRunesHelper(tt.in, tt.width, "…"); got != tt.want {
			t.Errorf("truncateRunesHelper(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestModel_Navigation(t *testing.T) {
	f := newFixture(t)
	m := newTestModel(t, f)

	if m.cursor != 0 {
		t.Fatalf("cursor = %d, want 0", m.cursor)
	}
	press(m, runes("j"))
	press(m, tea.KeyMsg{Type: tea.KeyDown})
	if m.rows[m.cursor].Name != "Open" {
		t.Fatalf("selected %q, want Open", m.rows[m.cursor].Name)
	}

	// Left on a leaf jumps to the parent.
	press(m, runes("h"))
	if m.rows[m.cursor].Name != "Triage" {
		t.Errorf("selected %q after left, want Triage", m.rows[m.cursor].Name)
	}

	press(m, runes("G"))
	if m.rows[m.cursor].Name != "Later" {
		t.Errorf("selected %q after end, want Later", m.rows[m.cursor].Name)
	}
	press(m, runes("j"))
	if m.rows[m.cursor].Name != "Later" {
		t.Error("cursor moved past the last row")
	}
}

func TestModel_ExpandCollapse(t *testing.T) {
	f := newFixture(t)
	m := newTestModel(t, f)

	press(m, runes("G"))
	press(m, tea.KeyMsg{Type: tea.KeyRight})
	if got := strings.Join(rowNames(m), ","); got != "work,Triage,Open,Later,Someday" {
		t.Fatalf("rows after expand = %s", got)
	}
	if !f.later.IsExpanded() {
		t.Error("node not expanded in the tree")
	}
	if m.rows[m.cursor].Name != "Later" {
		t.Errorf("selection moved to %q", m.rows[m.cursor].Name)
	}

	press(m, runes("g"))
	press(m, runes("j"))
	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if got := strings.Join(rowNames(m), ","); got != "work,Triage,Later,Someday" {
		t.Errorf("rows after collapse = %s", got)
	}
}

func TestModel_TreeEventsSignalReload(t *testing.T) {
	f := newFixture(t)
	m := newTestModel(t, f)
	select {
	case <-m.changes:
	default:
	}

	f.driver.Do(context.Background(), func(tree *navtree.Tree) {
		tree.AddFolder(f.conn, "Inbox")
	})
	select {
	case <-m.changes:
	default:
		t.Fatal("tree change did not signal the model")
	}
	_, cmd := m.Update(treeChangedMsg{})
	if cmd == nil {
		t.Fatal("change message should reload")
	}
	reload(m)
	if got := rowNames(m); got[len(got)-1] != "Inbox" {
		t.Errorf("rows = %v, want Inbox last", got)
	}
}

func TestModel_SyncToggle(t *testing.T) {
	f := newFixture(t)
	m := newTestModel(t, f)

	press(m, runes("j"))
	press(m, runes("j"))
	press(m, runes("s"))
	if !f.open.SyncFlag() {
		t.Fatal("sync key did not flag the node")
	}
	if !m.rows[m.cursor].Flagged || !m.rows[m.cursor].Synced {
		t.Errorf("row = %+v, want flagged and synced", m.rows[m.cursor])
	}

	press(m, runes("s"))
	if f.open.SyncFlag() {
		t.Error("second press should clear the flag")
	}
}

func TestModel_View(t *testing.T) {
	f := newFixture(t)
	ui := config.DefaultConfig().UI
	m, err := NewModel(f.driver, ui, DefaultTheme(lipgloss.NewRenderer(&bytes.Buffer{})))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 12})

	if !strings.Contains(m.View(), "Loading") {
		t.Error("view before the first snapshot should say loading")
	}
	reload(m)
	view := m.View()
	for _, want := range []string{"beadnav", "work", "Triage", "Open", "q quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view misses %q:\n%s", want, view)
		}
	}
	if _, cmd := m.Update(runes("q")); cmd == nil {
		t.Error("quit key should return a command")
	}
}
