package navtree

import (
	"testing"
	"time"
)

func TestPreview_CountsQueries(t *testing.T) {
	h := newHarness(t)
	h.syncAll()

	tests := []struct {
		name   string
		filter string
		want   int
	}{
		{"open", "status = open", 2},
		{"ui", "label = ui", 3},
		{"ui bugs", "label = ui & type = bug", 2},
		{"not closed", "status != closed", 4},
		{"p1 or p2", "priority in (1, 2)", 4},
		{"mine", "tag = mine", 1},
		{"text", `~"crash"`, 1},
	}
	nodes := make([]*Node, len(tests))
	for i, tt := range tests {
		nodes[i] = h.query(h.conn, tt.name, tt.filter)
	}
	h.settle()

	if got := h.conn.PreviewCount(false); got != 6 {
		t.Errorf("connection count = %d, want 6", got)
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nodes[i].PreviewCount(false); got != tt.want {
				t.Errorf("PreviewCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPreview_NestedQueriesNarrow(t *testing.T) {
	h := newHarness(t)
	h.syncAll()

	folder, err := h.tree.AddFolder(h.conn, "work")
	if err != nil {
		t.Fatal(err)
	}
	folder.SetExpanded(true)
	ui := h.query(folder, "ui", "label = ui")
	ui.SetExpanded(true)
	closed := h.query(ui, "closed", "status = closed")
	h.settle()

	if got := folder.PreviewCount(false); got != 6 {
		t.Errorf("folder shows parent count %d, want 6", got)
	}
	if got := closed.PreviewCount(false); got != 1 {
		t.Errorf("nested count = %d, want 1", got)
	}
}

func TestPreview_InvalidateThenScheduleYieldsOneJob(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	q := h.query(h.conn, "open", "status = open")
	h.settle()
	h.sched.reset()

	q.InvalidatePreview()
	q.InvalidatePreview()
	if !q.MaybeSchedulePreview() {
		t.Fatal("MaybeSchedulePreview should submit a job")
	}
	if q.MaybeSchedulePreview() {
		t.Error("second MaybeSchedulePreview should not submit")
	}
	q.InvalidatePreview()
	if !q.MaybeSchedulePreview() {
		t.Fatal("MaybeSchedulePreview after invalidation should submit")
	}
	h.settle()

	if n := h.sched.count(q.ID()); n != 2 {
		t.Errorf("jobs for node = %d, want 2 (one per invalidation)", n)
	}
	if got := q.PreviewCount(false); got != 2 {
		t.Errorf("PreviewCount = %d, want 2", got)
	}
}

func TestPreview_CoalescedReevaluationSchedulesOnce(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	q := h.query(h.conn, "open", "status = open")
	h.settle()
	h.sched.reset()

	for i := 0; i < 5; i++ {
		q.InvalidatePreview()
		h.advance(100 * time.Millisecond)
	}
	h.settle()

	if n := h.sched.count(q.ID()); n != 1 {
		t.Errorf("jobs = %d, want 1", n)
	}
}

func TestPreview_CollapsedSubtreeIsNotCounted(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	folder, _ := h.tree.AddFolder(h.conn, "collapsed")
	q := h.query(folder, "open", "status = open")
	h.settle()

	if got := q.PreviewCount(true); got != -1 {
		t.Errorf("PreviewCount under collapsed folder = %d, want -1", got)
	}
	if n := h.sched.count(q.ID()); n != 0 {
		t.Errorf("jobs = %d, want 0", n)
	}

	folder.SetExpanded(true)
	h.settle()
	if got := q.PreviewCount(false); got != 2 {
		t.Errorf("PreviewCount after expand = %d, want 2", got)
	}
}

func TestPreview_UnsynchronizedIsNotCounted(t *testing.T) {
	h := newHarness(t)
	q := h.query(h.conn, "open", "status = open")
	h.settle()

	if q.IsSynchronized() {
		t.Fatal("query should not be synchronized")
	}
	if got := q.PreviewCount(true); got != -1 {
		t.Errorf("PreviewCount = %d, want -1", got)
	}
}

func TestPreview_RootIsUnavailable(t *testing.T) {
	h := newHarness(t)
	root := h.tree.Root()
	root.MaybeSchedulePreview()

	p := root.Preview()
	if p == nil || p.Available() {
		t.Fatalf("root preview = %+v, want unavailable", p)
	}
	if got := root.PreviewCount(false); got != -1 {
		t.Errorf("root PreviewCount = %d, want -1", got)
	}
}

func TestPreview_BadFilterIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	q := h.query(h.conn, "broken", "status = (")
	h.settle()

	if q.FilterError() == nil {
		t.Fatal("expected a filter error")
	}
	if q.PreviewCount(true) != -1 {
		t.Error("broken filter must not produce a count")
	}
}

func TestPreview_SetPreviewRejectsInvalid(t *testing.T) {
	h := newHarness(t)
	q := h.query(h.conn, "open", "status = open")

	first := NewPreview(3)
	if !q.SetPreview(first) {
		t.Fatal("SetPreview(valid) = false")
	}
	if !q.SetPreview(NewPreview(4)) {
		t.Fatal("replacing SetPreview = false")
	}
	if first.Valid() {
		t.Error("replaced preview should be marked invalid")
	}
	if q.SetPreview(first) {
		t.Error("invalid preview accepted")
	}
	if got := q.Preview().Count(); got != 4 {
		t.Errorf("count = %d, want 4", got)
	}
	if !q.SetPreview(nil) {
		t.Error("nil preview should be accepted")
	}
}

func TestPreview_CushionedCountDuringRecount(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	q := h.query(h.conn, "open", "status = open")
	h.settle()

	q.InvalidatePreview()
	q.MaybeSchedulePreview()
	if got := q.PreviewCount(false); got != -1 {
		t.Errorf("PreviewCount while pending = %d, want -1", got)
	}
	if got := q.CushionedPreviewCount(); got != 2 {
		t.Errorf("CushionedPreviewCount = %d, want 2", got)
	}
	h.settle()
}

func TestPreview_PresentationIsCoalesced(t *testing.T) {
	h := newHarness(t)
	q := h.query(h.conn, "open", "status = open")
	events := h.record()

	for i := 1; i <= 5; i++ {
		q.SetPreview(NewPreview(i))
	}
	h.advance(50 * time.Millisecond)
	if n := events.count(PreviewChanged, q); n != 0 {
		t.Fatalf("early notifications: %d", n)
	}
	h.advance(100 * time.Millisecond)
	if n := events.count(PreviewChanged, q); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestPreview_NotReadyConnection(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	if err := h.conn.SetDatabase(nil); err != nil {
		t.Fatal(err)
	}
	q := h.query(h.conn, "open", "status = open")
	h.settle()

	if p := q.Preview(); p == nil || p.Available() {
		t.Fatalf("preview = %+v, want unavailable", p)
	}

	h.conn.SetDatabase(h.store)
	h.settle()
	if got := q.PreviewCount(false); got != 2 {
		t.Errorf("PreviewCount after ready = %d, want 2", got)
	}
}

func TestPreview_DatabaseChangedRecounts(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	q := h.query(h.conn, "open", "status = open")
	h.settle()

	issues := sampleIssues()
	issues[2].Status = "open"
	if err := writeFixture(h, issues); err != nil {
		t.Fatal(err)
	}
	h.tree.DatabaseChanged("main")
	h.settle()

	if got := q.PreviewCount(false); got != 3 {
		t.Errorf("PreviewCount after change = %d, want 3", got)
	}
}

func TestPreview_DetachedJobResultIsDropped(t *testing.T) {
	h := newHarness(t)
	h.syncAll()
	q := h.query(h.conn, "open", "status = open")
	q.MaybeSchedulePreview()
	if err := h.tree.Remove(q); err != nil {
		t.Fatal(err)
	}
	h.settle()

	if q.Preview() != nil {
		t.Errorf("detached node got preview %+v", q.Preview())
	}
}
