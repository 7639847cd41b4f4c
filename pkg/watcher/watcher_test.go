package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vanderheijden86/beadnav/pkg/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDebouncer(t *testing.T) {
	tests := []struct {
		name  string
		drive func(d *Debouncer, fc *clock.Fake, runs *atomic.Int32, last *atomic.Int32)
		runs  int32
		last  int32
	}{
		{
			name: "triggers inside the window collapse",
			drive: func(d *Debouncer, fc *clock.Fake, runs, last *atomic.Int32) {
				for i := 0; i < 10; i++ {
					d.Trigger(func() { runs.Add(1) })
					fc.Advance(40 * time.Millisecond)
				}
				fc.Advance(time.Second)
			},
			runs: 1,
		},
		{
			name: "latest function wins",
			drive: func(d *Debouncer, fc *clock.Fake, runs, last *atomic.Int32) {
				d.Trigger(func() { runs.Add(1); last.Store(1) })
				d.Trigger(func() { runs.Add(1); last.Store(2) })
				fc.Advance(time.Second)
			},
			runs: 1,
			last: 2,
		},
		{
			name: "cancel drops the pending function",
			drive: func(d *Debouncer, fc *clock.Fake, runs, last *atomic.Int32) {
				d.Trigger(func() { runs.Add(1) })
				d.Cancel()
				fc.Advance(time.Second)
			},
		},
		{
			name: "separate bursts run separately",
			drive: func(d *Debouncer, fc *clock.Fake, runs, last *atomic.Int32) {
				d.Trigger(func() { runs.Add(1) })
				fc.Advance(time.Second)
				d.Trigger(func() { runs.Add(1) })
				fc.Advance(time.Second)
			},
			runs: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clock.NewFake(epoch)
			d := newDebouncer(50*time.Millisecond, fc)
			var runs, last atomic.Int32
			tt.drive(d, fc, &runs, &last)
			if got := runs.Load(); got != tt.runs {
				t.Errorf("runs = %d, want %d", got, tt.runs)
			}
			if got := last.Load(); got != tt.last {
				t.Errorf("last = %d, want %d", got, tt.last)
			}
		})
	}
}

func TestDebouncer_DefaultDuration(t *testing.T) {
	if d := NewDebouncer(0); d.Duration() != DefaultDebounceDuration {
		t.Errorf("Duration() = %v, want %v", d.Duration(), DefaultDebounceDuration)
	}
}

func writeDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beads.db")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// startWatch returns a watcher with a short debounce whose changes and
// errors land on the returned channels.
func startWatch(t *testing.T, path string, opts ...Option) (*Watcher, <-chan struct{}, <-chan error) {
	t.Helper()
	changes := make(chan struct{}, 16)
	errs := make(chan error, 16)
	opts = append([]Option{
		WithDebounce(30 * time.Millisecond),
		WithPollInterval(20 * time.Millisecond),
		WithOnChange(func() { changes <- struct{}{} }),
		WithOnError(func(err error) { errs <- err }),
	}, opts...)
	w, err := Watch(context.Background(), path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, changes, errs
}

func waitChange(t *testing.T, changes <-chan struct{}) {
	t.Helper()
	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	// Let the mtime move past the recorded stamp.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatch_ReportsWrites(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		var opts []Option
		if polling {
			name = "polling"
			opts = append(opts, WithPolling())
		}
		t.Run(name, func(t *testing.T) {
			t.Run("database", func(t *testing.T) {
				path := writeDB(t)
				w, changes, _ := startWatch(t, path, opts...)
				if w.Polling() != polling {
					t.Fatalf("Polling() = %v, want %v", w.Polling(), polling)
				}
				write(t, path, "v2 with more bytes")
				waitChange(t, changes)
			})
			t.Run("wal", func(t *testing.T) {
				path := writeDB(t)
				_, changes, _ := startWatch(t, path, opts...)
				write(t, walPath(path), "frame")
				waitChange(t, changes)
			})
		})
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	path := writeDB(t)
	_, changes, _ := startWatch(t, path)

	write(t, filepath.Join(filepath.Dir(path), "beadnav-tree-state.json"), "{}")
	select {
	case <-changes:
		t.Error("change reported for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatch_ReportsRemoval(t *testing.T) {
	path := writeDB(t)
	_, _, errs := startWatch(t, path, WithPolling())

	time.Sleep(50 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrDatabaseRemoved) {
			t.Errorf("error = %v, want ErrDatabaseRemoved", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("removal not reported")
	}
}

func TestWatch_MissingDatabaseIsCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beads.db")
	_, changes, errs := startWatch(t, path)

	write(t, path, "created")
	waitChange(t, changes)
	select {
	case err := <-errs:
		t.Errorf("unexpected error %v", err)
	default:
	}
}

func TestWatch_EnvForcesPolling(t *testing.T) {
	t.Setenv("BEADNAV_FORCE_POLL", "1")
	w, _, _ := startWatch(t, writeDB(t))
	if !w.Polling() {
		t.Error("BEADNAV_FORCE_POLL=1 should select polling")
	}
}

func TestWatch_StopSilencesPendingChange(t *testing.T) {
	path := writeDB(t)
	w, changes, _ := startWatch(t, path, WithDebounce(200*time.Millisecond))

	write(t, path, "v2 with more bytes")
	time.Sleep(80 * time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case <-changes:
		t.Error("change reported after Stop")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatch_ContextEndsWatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := Watch(ctx, writeDB(t))
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watch loop still running after cancel")
	}
	w.Stop()
}

func TestWatch_AbsolutePath(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := os.WriteFile("beads.db", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := Watch(context.Background(), "beads.db")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if !filepath.IsAbs(w.Path()) || filepath.Base(w.Path()) != "beads.db" {
		t.Errorf("Path() = %q, want an absolute path to beads.db", w.Path())
	}
}
