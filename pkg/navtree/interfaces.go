package navtree

import (
	"context"

	"github.com/vanderheijden86/beadnav/internal/datasource"
	"github.com/vanderheijden86/beadnav/internal/resolver"
	"github.com/vanderheijden86/beadnav/pkg/hypercube"
	"github.com/vanderheijden86/beadnav/pkg/model"
	"github.com/vanderheijden86/beadnav/pkg/scheduler"
)

// ModelListener receives changes of a ValueModel.
type ModelListener = resolver.Listener

// ValueModel is a live, ordered enumeration of the distinct values of an
// attribute. Events are delivered on the owner loop.
type ValueModel interface {
	Len() int
	At(i int) model.ItemKey
	Subscribe(l ModelListener) func()
}

// SyncRegistry holds sync flags and synchronized cubes. Mutations happen
// between Lock and Unlock.
type SyncRegistry interface {
	Lock()
	Unlock() error
	SyncFlag(conn, node string) bool
	SetSyncFlag(conn, node string, sync bool)
	IsCubeSynced(c *hypercube.Cube) bool
	SetCubeSynced(c *hypercube.Cube)
	Subscribe(l func(more, less bool)) func()
}

// Database runs read transactions against a connection's items.
type Database interface {
	Read(ctx context.Context, fn func(datasource.Reader) error) error
}

// Scheduler runs background jobs with at most one outstanding job per
// owner key.
type Scheduler interface {
	Schedule(owner string, job scheduler.Job, cancelExisting bool) bool
	Cancel(owner string) bool
	IsEnqueued(owner string) bool
}

// Executor runs functions on the goroutine that owns the tree.
type Executor interface {
	Post(f func())
}
