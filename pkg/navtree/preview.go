package navtree

import (
	"context"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
)

// Preview is the count state of a node. A node without a Preview has no
// count yet; a pending Preview stands for a running job.
type Preview struct {
	count     int
	available bool
	pending   bool
	valid     bool
}

// NewPreview returns a valid preview holding count.
func NewPreview(count int) *Preview {
	return &Preview{count: count, available: true, valid: true}
}

// Unavailable returns a valid preview stating that no count can be made.
func Unavailable() *Preview {
	return &Preview{valid: true}
}

func newPending() *Preview {
	return &Preview{pending: true, valid: true}
}

// Count returns the count, or -1 when the preview holds none.
func (p *Preview) Count() int {
	if p == nil || p.pending || !p.available {
		return -1
	}
	return p.count
}

// Available reports whether a count could be made.
func (p *Preview) Available() bool { return p != nil && p.available }

// Pending reports whether a job computing the count is outstanding.
func (p *Preview) Pending() bool { return p != nil && p.pending }

// Valid reports whether the preview is still the node's current one.
func (p *Preview) Valid() bool { return p != nil && p.valid }

// Preview returns the current preview of n, or nil.
func (n *Node) Preview() *Preview { return n.preview }

// SetPreview replaces the preview of n. It accepts nil or a valid preview
// only; the replaced preview is marked invalid so a job still working for
// it becomes a no-op.
func (n *Node) SetPreview(p *Preview) bool {
	if !n.setPreview(p) {
		return false
	}
	n.tree.presentation.Request(n)
	return true
}

func (n *Node) setPreview(p *Preview) bool {
	if p != nil && !p.valid {
		n.tree.log.Warn("invalid_preview_rejected", eventlog.Fields{"node": n.id})
		return false
	}
	old := n.preview
	if old == p {
		return false
	}
	if old != nil {
		old.valid = false
	}
	n.preview = p
	if p != nil && !p.pending && p.available {
		n.lastCount = p.count
	}
	if n.parent != nil && (n.parent.hidden == n || n.parent.hidden == nil) {
		n.parent.hiddenValid = false
	}
	return true
}

// InvalidatePreview drops the counts of n and its subtree and requests a
// coalesced re-evaluation of each.
func (n *Node) InvalidatePreview() {
	n.Walk(nil, func(m *Node) {
		m.invalidateOne()
	})
}

func (n *Node) invalidateOne() {
	info, ok := n.kind.info()
	if !ok {
		return
	}
	t := n.tree
	switch info.preview {
	case previewOwn, previewScan:
		t.sched.Cancel(n.id)
		n.SetPreview(nil)
		t.reeval.Request(n)
	case previewInherit:
		if n.dist != nil {
			t.sched.Cancel(n.id + distJobSuffix)
		}
	}
}

// MaybeSchedulePreview starts a count job for n if it is attached,
// synchronized, visible and not already counted. It reports whether a job
// was submitted.
func (n *Node) MaybeSchedulePreview() bool {
	info, ok := n.kind.info()
	if !ok || !n.attached {
		return false
	}
	switch info.preview {
	case previewInherit:
		return false
	case previewScan:
		f := n.distFolderNode()
		if f == nil {
			return false
		}
		return f.scheduleScan()
	}
	if n.preview != nil {
		return false
	}
	if n.kind == KindRoot {
		n.SetPreview(Unavailable())
		return false
	}
	if !n.IsSynchronized() || !n.parentShowable() {
		return false
	}

	db, view, err := n.view()
	if err != nil {
		n.tree.log.Trace("preview_unavailable", eventlog.Fields{"node": n.id, "reason": err})
		n.SetPreview(Unavailable())
		return false
	}

	token := newPending()
	n.SetPreview(token)
	exec := n.tree.exec
	job := func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stop := metrics.Timer(metrics.PreviewCount)
		var count int
		err := db.Read(ctx, func(r datasource.Reader) error {
			var err error
			count, err = r.Count(ctx, view)
			return err
		})
		stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			exec.Post(func() {
				if n.preview == token && token.valid {
					n.SetPreview(Unavailable())
				}
			})
			return err
		}
		exec.Post(func() {
			if n.preview == token && token.valid && n.attached {
				n.SetPreview(NewPreview(count))
			}
		})
		return nil
	}
	if !n.tree.sched.Schedule(n.id, job, true) {
		n.setPreview(nil)
		return false
	}
	return true
}

// PreviewCount returns the item count of n, or -1 when it is not known.
// With schedule set, a missing count is requested.
func (n *Node) PreviewCount(schedule bool) int {
	info, ok := n.kind.info()
	if !ok {
		return -1
	}
	if info.preview == previewInherit {
		if n.parent == nil {
			return -1
		}
		return n.parent.PreviewCount(schedule)
	}
	if c := n.preview.Count(); c >= 0 {
		metrics.PreviewCache.Hit()
		return c
	}
	metrics.PreviewCache.Miss()
	if schedule && n.preview == nil {
		n.MaybeSchedulePreview()
	}
	return -1
}

// CushionedPreviewCount is PreviewCount without scheduling, falling back
// to the last known count while a new one is computed.
func (n *Node) CushionedPreviewCount() int {
	if info, ok := n.kind.info(); ok && info.preview == previewInherit {
		if n.parent == nil {
			return -1
		}
		return n.parent.CushionedPreviewCount()
	}
	if c := n.preview.Count(); c >= 0 {
		return c
	}
	if n.preview != nil && !n.preview.pending {
		return -1
	}
	return n.lastCount
}
