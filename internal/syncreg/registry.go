// Package syncreg records which parts of the item space are known to be
// fully present locally. It keeps per-node sync flags for each connection
// and a set of hypercubes marked as synchronized, persisted in a small
// SQLite database next to the tree state.
//
// Mutations are batched between Lock and Unlock. Readers observe a batch
// only once Unlock applies it, so related flag and cube updates appear
// together.
package syncreg

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/beadnav/pkg/eventlog"
	"github.com/vanderheijden86/beadnav/pkg/hypercube"
	"github.com/vanderheijden86/beadnav/pkg/metrics"
)

// ErrNotLocked is returned by Unlock without a matching Lock.
var ErrNotLocked = errors.New("syncreg: unlock without lock")

const schema = `
CREATE TABLE IF NOT EXISTS sync_flags (
	connection TEXT NOT NULL,
	node TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (connection, node)
);
CREATE TABLE IF NOT EXISTS synced_cubes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cube TEXT NOT NULL
);`

type flagKey struct {
	conn string
	node string
}

// Listener is told, after each applied batch, whether something may have
// become synchronized (more) or unsynchronized (less).
type Listener func(more, less bool)

// Registry is the sync registry. It is safe for concurrent use.
type Registry struct {
	write  sync.Mutex
	locked bool
	since  time.Time

	mu    sync.RWMutex
	flags map[flagKey]bool
	cubes *hypercube.Set

	// batch staged since Lock
	batchFlags map[flagKey]bool
	batchCubes []*hypercube.Cube

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int

	db  *sql.DB
	log *eventlog.Logger
}

// NewMemory returns a registry that is not persisted.
func NewMemory() *Registry {
	return &Registry{
		flags:     make(map[flagKey]bool),
		cubes:     hypercube.NewSet(),
		listeners: make(map[int]Listener),
		log:       eventlog.For("syncreg"),
	}
}

// Open returns a registry persisted in the SQLite database at path,
// creating it if needed.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("syncreg: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("syncreg: schema: %w", err)
	}

	r := NewMemory()
	r.db = db
	if err := r.load(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	rows, err := r.db.Query("SELECT connection, node FROM sync_flags")
	if err != nil {
		return fmt.Errorf("syncreg: load flags: %w", err)
	}
	for rows.Next() {
		var k flagKey
		if err := rows.Scan(&k.conn, &k.node); err != nil {
			rows.Close()
			return fmt.Errorf("syncreg: load flags: %w", err)
		}
		r.flags[k] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.Query("SELECT cube FROM synced_cubes ORDER BY id")
	if err != nil {
		return fmt.Errorf("syncreg: load cubes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("syncreg: load cubes: %w", err)
		}
		c := hypercube.Universal()
		if err := json.Unmarshal([]byte(raw), c); err != nil {
			r.log.Warn("cube_decode_failed", eventlog.Fields{"error": err})
			continue
		}
		r.cubes.Add(c)
	}
	return rows.Err()
}

// Close releases the database.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Lock starts a batch. Only one batch is open at a time.
func (r *Registry) Lock() {
	r.write.Lock()
	r.mu.Lock()
	r.locked = true
	r.since = time.Now()
	r.batchFlags = make(map[flagKey]bool)
	r.batchCubes = nil
	r.mu.Unlock()
}

// Unlock applies the batch, persists it and notifies listeners. The lock is
// released even when persisting fails; the error is returned and the
// in-memory state keeps the batch.
func (r *Registry) Unlock() error {
	r.mu.Lock()
	if !r.locked {
		r.mu.Unlock()
		return ErrNotLocked
	}
	defer r.write.Unlock()

	more, less := false, false
	changed := make(map[flagKey]bool)
	for k, v := range r.batchFlags {
		if r.flags[k] == v {
			continue
		}
		changed[k] = v
		if v {
			r.flags[k] = true
			more = true
		} else {
			delete(r.flags, k)
			less = true
		}
	}
	cubesChanged := false
	for _, c := range r.batchCubes {
		if r.cubes.Add(c) {
			cubesChanged = true
			more = true
		}
	}
	r.locked = false
	r.batchFlags = nil
	r.batchCubes = nil
	metrics.RegistryLock.Record(time.Since(r.since))

	var err error
	if len(changed) > 0 || cubesChanged {
		err = r.persist(changed, cubesChanged)
	}
	r.mu.Unlock()

	if more || less {
		r.notify(more, less)
	}
	return err
}

func (r *Registry) persist(changed map[flagKey]bool, cubesChanged bool) error {
	if r.db == nil {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("syncreg: persist: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for k, v := range changed {
		if v {
			_, err = tx.Exec(`INSERT INTO sync_flags (connection, node, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(connection, node) DO UPDATE SET updated_at = excluded.updated_at`, k.conn, k.node, now)
		} else {
			_, err = tx.Exec("DELETE FROM sync_flags WHERE connection = ? AND node = ?", k.conn, k.node)
		}
		if err != nil {
			return fmt.Errorf("syncreg: persist flag: %w", err)
		}
	}

	if cubesChanged {
		if _, err := tx.Exec("DELETE FROM synced_cubes"); err != nil {
			return fmt.Errorf("syncreg: persist cubes: %w", err)
		}
		for _, c := range r.cubes.Cubes() {
			raw, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("syncreg: encode cube: %w", err)
			}
			if _, err := tx.Exec("INSERT INTO synced_cubes (cube) VALUES (?)", string(raw)); err != nil {
				return fmt.Errorf("syncreg: persist cubes: %w", err)
			}
		}
	}
	return tx.Commit()
}

// SyncFlag reports whether node of conn was explicitly marked synchronized.
func (r *Registry) SyncFlag(conn, node string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[flagKey{conn, node}]
}

// SetSyncFlag stages a flag change. It must be called between Lock and
// Unlock; calls outside a batch are applied as a batch of their own.
func (r *Registry) SetSyncFlag(conn, node string, sync bool) {
	if r.stage(func() { r.batchFlags[flagKey{conn, node}] = sync }) {
		return
	}
	r.Lock()
	r.SetSyncFlag(conn, node, sync)
	if err := r.Unlock(); err != nil {
		r.log.Error("unlock_failed", eventlog.Fields{"error": err})
	}
}

// IsCubeSynced reports whether some cube marked synchronized encompasses c.
func (r *Registry) IsCubeSynced(c *hypercube.Cube) bool {
	return r.cubes.Covers(c)
}

// SetCubeSynced stages c as synchronized. Like SetSyncFlag it belongs inside
// a Lock/Unlock batch.
func (r *Registry) SetCubeSynced(c *hypercube.Cube) {
	if c == nil {
		return
	}
	c = c.Clone()
	if r.stage(func() { r.batchCubes = append(r.batchCubes, c) }) {
		return
	}
	r.Lock()
	r.SetCubeSynced(c)
	if err := r.Unlock(); err != nil {
		r.log.Error("unlock_failed", eventlog.Fields{"error": err})
	}
}

func (r *Registry) stage(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.locked {
		return false
	}
	fn()
	return true
}

// Cubes returns the cubes marked synchronized.
func (r *Registry) Cubes() []*hypercube.Cube {
	return r.cubes.Cubes()
}

// Flags returns the flagged nodes of conn in sorted order.
func (r *Registry) Flags(conn string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.flags {
		if k.conn == conn {
			out = append(out, k.node)
		}
	}
	sort.Strings(out)
	return out
}

// Subscribe registers l and returns a function removing it. Listeners run on
// the goroutine calling Unlock.
func (r *Registry) Subscribe(l func(more, less bool)) func() {
	r.lmu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.lmu.Unlock()
	return func() {
		r.lmu.Lock()
		delete(r.listeners, id)
		r.lmu.Unlock()
	}
}

func (r *Registry) notify(more, less bool) {
	r.lmu.Lock()
	ls := make([]Listener, 0, len(r.listeners))
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		ls = append(ls, r.listeners[id])
	}
	r.lmu.Unlock()

	for _, l := range ls {
		l(more, less)
	}
}
