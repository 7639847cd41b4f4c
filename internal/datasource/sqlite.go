package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/beadnav/pkg/filter"
	"github.com/vanderheijden86/beadnav/pkg/model"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("datasource: store closed")

// Reader reads items inside one read transaction. A Reader must not be used
// after the Read callback that received it returns.
type Reader interface {
	// Count returns the number of live items matching c.
	Count(ctx context.Context, c filter.Constraint) (int, error)
	// Scan calls fn once per live item matching c with the item's values
	// for attr. Items without a value get an empty slice.
	Scan(ctx context.Context, c filter.Constraint, attr model.AttrID, fn func(values []model.Value) error) error
	// ParentValues maps each value of a hierarchical attribute to its
	// parent value.
	ParentValues(ctx context.Context, attr model.AttrID) (map[model.Value]model.Value, error)
	// Values returns the distinct values of attr currently present.
	Values(ctx context.Context, attr model.AttrID) ([]model.ItemKey, error)
}

// Store provides read access to a beads SQLite database for one connection.
type Store struct {
	db   *sql.DB
	path string
	conn model.Connection
}

// Open opens the beads database at path for reading on behalf of conn.
func Open(conn model.Connection, path string) (*Store, error) {
	// Open in read-only mode; beads itself is the only writer.
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set pragmas for read performance
	pragmas := []string{
		"PRAGMA cache_size = -64000",   // 64MB cache
		"PRAGMA mmap_size = 268435456", // 256MB mmap
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		// Non-fatal: older builds reject some of these.
		_, _ = db.Exec(pragma)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot open database %s: %w", path, err)
	}

	return &Store{db: db, path: path, conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Connection returns the connection the store serves.
func (s *Store) Connection() model.Connection { return s.conn }

// Read runs fn inside a read-only transaction.
func (s *Store) Read(ctx context.Context, fn func(Reader) error) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	return fn(&txReader{tx: tx, conn: s.conn})
}

// CountIssues returns the count of live issues.
func (s *Store) CountIssues(ctx context.Context) (int, error) {
	var n int
	err := s.Read(ctx, func(r Reader) error {
		var err error
		n, err = r.Count(ctx, filter.True{})
		return err
	})
	return n, err
}

// LastModified returns the most recent update time.
func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	if s.db == nil {
		return time.Time{}, ErrClosed
	}
	var updatedAt sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM issues").Scan(&updatedAt)
	if err != nil {
		return time.Time{}, err
	}
	if !updatedAt.Valid {
		return time.Time{}, nil
	}
	return parseTime(updatedAt.String), nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type txReader struct {
	tx   *sql.Tx
	conn model.Connection
}

func (r *txReader) Count(ctx context.Context, c filter.Constraint) (int, error) {
	where, args, err := compile(c, r.conn)
	if err != nil {
		return 0, err
	}
	var n int
	q := "SELECT COUNT(*) FROM issues WHERE " + liveClause + " AND (" + where + ")"
	if err := r.tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (r *txReader) Scan(ctx context.Context, c filter.Constraint, attr model.AttrID, fn func([]model.Value) error) error {
	where, args, err := compile(c, r.conn)
	if err != nil {
		return err
	}
	col, err := projection(attr)
	if err != nil {
		return err
	}
	q := "SELECT " + col + " FROM issues WHERE " + liveClause + " AND (" + where + ")"
	rows, err := r.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("scan %s: %w", attr, err)
	}
	defer rows.Close()

	var buf []model.Value
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", attr, err)
		}
		buf = decodeValues(buf[:0], attr, raw, r.conn)
		if err := fn(buf); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *txReader) ParentValues(ctx context.Context, attr model.AttrID) (map[model.Value]model.Value, error) {
	out := make(map[model.Value]model.Value)
	if attr != model.AttrEpic {
		return out, nil
	}
	rows, err := r.tx.QueryContext(ctx, `
		SELECT d.issue_id, d.depends_on_id
		FROM dependencies d
		JOIN issues i ON i.id = d.issue_id
		WHERE d.dependency_type = 'parent-child' AND i.issue_type = 'epic'`)
	if err != nil {
		return nil, fmt.Errorf("parent values: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var child, parent string
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, fmt.Errorf("parent values: %w", err)
		}
		out[model.KeyOf(attr, child)] = model.KeyOf(attr, parent)
	}
	return out, rows.Err()
}

func (r *txReader) Values(ctx context.Context, attr model.AttrID) ([]model.ItemKey, error) {
	if attr == model.AttrConnection {
		return []model.ItemKey{{Attr: attr, Value: r.conn.Key, Name: r.conn.Name}}, nil
	}
	if attr == model.AttrEpic {
		return r.epicValues(ctx)
	}

	col, err := projection(attr)
	if err != nil {
		return nil, err
	}
	rows, err := r.tx.QueryContext(ctx, "SELECT DISTINCT "+col+" FROM issues WHERE "+liveClause)
	if err != nil {
		return nil, fmt.Errorf("values %s: %w", attr, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []model.ItemKey
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("values %s: %w", attr, err)
		}
		for _, name := range decodeNames(attr, raw) {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, model.ItemKey{Attr: attr, Value: model.KeyOf(attr, name), Name: name})
		}
	}
	return out, rows.Err()
}

// epicValues lists every epic with its parent epic, whether or not any issue
// points at it yet.
func (r *txReader) epicValues(ctx context.Context) ([]model.ItemKey, error) {
	parents, err := r.ParentValues(ctx, model.AttrEpic)
	if err != nil {
		return nil, err
	}
	rows, err := r.tx.QueryContext(ctx,
		"SELECT id FROM issues WHERE issue_type = 'epic' AND "+liveClause)
	if err != nil {
		return nil, fmt.Errorf("values epic: %w", err)
	}
	defer rows.Close()

	var out []model.ItemKey
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("values epic: %w", err)
		}
		key := model.KeyOf(model.AttrEpic, id)
		out = append(out, model.ItemKey{
			Attr:   model.AttrEpic,
			Value:  key,
			Name:   id,
			Parent: parents[key],
		})
	}
	return out, rows.Err()
}

// liveClause excludes deleted issues.
const liveClause = "(tombstone IS NULL OR tombstone = 0)"

// tagPrefix marks labels that are kept locally rather than synced.
const tagPrefix = "tag:"

// projection returns the SQL expression holding attr's raw value.
func projection(attr model.AttrID) (string, error) {
	switch attr {
	case model.AttrConnection:
		return "NULL", nil
	case model.AttrStatus:
		return "status", nil
	case model.AttrPriority:
		return "CAST(priority AS TEXT)", nil
	case model.AttrType:
		return "issue_type", nil
	case model.AttrAssignee:
		return "NULLIF(assignee, '')", nil
	case model.AttrLabel, model.AttrTag:
		return "labels", nil
	case model.AttrEpic:
		return `(SELECT d.depends_on_id FROM dependencies d
			WHERE d.issue_id = issues.id AND d.dependency_type = 'parent-child' LIMIT 1)`, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAttribute, attr)
	}
}

func decodeNames(attr model.AttrID, raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	switch attr {
	case model.AttrLabel:
		var out []string
		for _, l := range parseJSONStringArray(raw.String) {
			if !strings.HasPrefix(l, tagPrefix) {
				out = append(out, l)
			}
		}
		return out
	case model.AttrTag:
		var out []string
		for _, l := range parseJSONStringArray(raw.String) {
			if name, ok := strings.CutPrefix(l, tagPrefix); ok && name != "" {
				out = append(out, name)
			}
		}
		return out
	default:
		return []string{raw.String}
	}
}

func decodeValues(buf []model.Value, attr model.AttrID, raw sql.NullString, conn model.Connection) []model.Value {
	if attr == model.AttrConnection {
		return append(buf, conn.Key)
	}
	for _, name := range decodeNames(attr, raw) {
		buf = append(buf, model.KeyOf(attr, name))
	}
	return buf
}

// priorityName normalizes "P1" and "1" to the stored form.
func priorityName(name string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(name), "P"))
	return n, err == nil
}
