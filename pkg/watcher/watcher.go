// Package watcher reports changes to a beads SQLite database. Writes land
// in the database file or its -wal sibling; both are watched.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanderheijden86/beadnav/pkg/clock"
)

// DefaultPollInterval is how often a polling watcher stats the database.
const DefaultPollInterval = 2 * time.Second

// ErrDatabaseRemoved is reported when a database that existed disappears.
var ErrDatabaseRemoved = errors.New("watcher: database removed")

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithPollInterval sets the stat interval used in polling mode.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithPolling skips fsnotify and stats the database periodically. Set
// BEADNAV_FORCE_POLL=1 for the same effect, e.g. on network filesystems.
func WithPolling() Option {
	return func(w *Watcher) { w.polling = true }
}

// WithOnChange sets the function called after a debounced change.
func WithOnChange(fn func()) Option {
	return func(w *Watcher) { w.onChange = fn }
}

// WithOnError sets the function called for watch errors.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// WithClock replaces the clock behind debouncing and polling.
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// Watcher follows one database until its context ends or Stop is called.
type Watcher struct {
	path         string
	debounce     time.Duration
	pollInterval time.Duration
	polling      bool
	onChange     func()
	onError      func(error)
	clock        clock.Clock

	debouncer *Debouncer
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once

	mu   sync.Mutex
	last stamp
}

// stamp summarizes the database and its WAL file.
type stamp struct {
	exists  bool
	mtime   time.Time
	size    int64
	walTime time.Time
	walSize int64
}

func statDB(path string) (stamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return stamp{}, err
	}
	st := stamp{exists: true, mtime: info.ModTime(), size: info.Size()}
	if wal, err := os.Stat(walPath(path)); err == nil {
		st.walTime, st.walSize = wal.ModTime(), wal.Size()
	}
	return st, nil
}

func walPath(path string) string { return path + "-wal" }

// Watch starts watching the database at path. A missing database is
// allowed; its creation counts as a change. Watching falls back to polling
// when fsnotify cannot watch the directory.
func Watch(ctx context.Context, path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:         abs,
		debounce:     DefaultDebounceDuration,
		pollInterval: DefaultPollInterval,
		onChange:     func() {},
		onError:      func(error) {},
		clock:        clock.Real(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if force, _ := strconv.ParseBool(os.Getenv("BEADNAV_FORCE_POLL")); force {
		w.polling = true
	}

	st, err := statDB(w.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	w.last = st
	w.debouncer = newDebouncer(w.debounce, w.clock)

	var fsw *fsnotify.Watcher
	if !w.polling {
		if fsw, err = fsnotify.NewWatcher(); err == nil {
			if err = fsw.Add(filepath.Dir(w.path)); err != nil {
				fsw.Close()
				fsw = nil
			}
		}
		w.polling = fsw == nil
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.run(fsw)
	return w, nil
}

// Stop ends watching, drops a pending notification and waits for the
// watch loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
		w.debouncer.Cancel()
	})
}

// Polling reports whether the watcher stats the database instead of using
// fsnotify.
func (w *Watcher) Polling() bool { return w.polling }

// Path returns the absolute database path.
func (w *Watcher) Path() string { return w.path }

func (w *Watcher) run(fsw *fsnotify.Watcher) {
	defer close(w.done)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		tick   <-chan time.Time
	)
	if fsw != nil {
		defer fsw.Close()
		events, errs = fsw.Events, fsw.Errors
	} else {
		t := w.clock.NewTicker(w.pollInterval)
		defer t.Stop()
		tick = t.C()
	}

	db, wal := filepath.Base(w.path), filepath.Base(walPath(w.path))
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if name := filepath.Base(ev.Name); name == db || name == wal {
				w.check(true)
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.onError(err)
		case <-tick:
			w.check(false)
		}
	}
}

// check compares the database with the last stamp. An fsnotify event
// counts as a change even when the stamp looks the same.
func (w *Watcher) check(event bool) {
	st, err := statDB(w.path)
	if err != nil && !os.IsNotExist(err) {
		w.onError(err)
		return
	}

	w.mu.Lock()
	removed := w.last.exists && !st.exists
	changed := event || st != w.last
	w.last = st
	w.mu.Unlock()

	switch {
	case removed:
		w.onError(ErrDatabaseRemoved)
	case changed:
		w.debouncer.Trigger(w.notify)
	}
}

func (w *Watcher) notify() {
	if w.ctx.Err() != nil {
		return
	}
	w.onChange()
}
