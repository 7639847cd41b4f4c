package datasource

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// FixtureIssue is a row written by WriteFixture.
type FixtureIssue struct {
	ID       string
	Title    string
	Status   string
	Priority int
	Type     string
	Assignee string
	Labels   []string
	// Epic is the id of the parent issue, linked by a parent-child dependency.
	Epic    string
	Deleted bool
	Updated time.Time
}

const fixtureSchema = `
CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	description TEXT,
	status TEXT,
	priority INTEGER,
	issue_type TEXT,
	assignee TEXT,
	labels TEXT,
	created_at TEXT,
	updated_at TEXT,
	tombstone INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS dependencies (
	issue_id TEXT NOT NULL,
	depends_on_id TEXT NOT NULL,
	dependency_type TEXT NOT NULL
);`

// WriteFixture creates or replaces a beads-shaped database at path holding
// exactly issues. It backs tests and the generated benchmark datasets.
func WriteFixture(path string, issues []FixtureIssue) error {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return fmt.Errorf("fixture: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fixtureSchema); err != nil {
		return fmt.Errorf("fixture schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("fixture: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM issues; DELETE FROM dependencies;"); err != nil {
		return fmt.Errorf("fixture reset: %w", err)
	}
	for _, is := range issues {
		labels, err := json.Marshal(is.Labels)
		if err != nil {
			return err
		}
		updated := is.Updated
		if updated.IsZero() {
			updated = time.Now()
		}
		typ := is.Type
		if typ == "" {
			typ = "task"
		}
		_, err = tx.Exec(`INSERT INTO issues
			(id, title, status, priority, issue_type, assignee, labels, created_at, updated_at, tombstone)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			is.ID, is.Title, nullIfEmpty(is.Status), is.Priority, typ, nullIfEmpty(is.Assignee),
			string(labels), updated.Format(time.RFC3339Nano), updated.Format(time.RFC3339Nano), is.Deleted)
		if err != nil {
			return fmt.Errorf("fixture insert %s: %w", is.ID, err)
		}
		if is.Epic != "" {
			_, err = tx.Exec(`INSERT INTO dependencies (issue_id, depends_on_id, dependency_type)
				VALUES (?, ?, 'parent-child')`, is.ID, is.Epic)
			if err != nil {
				return fmt.Errorf("fixture dependency %s: %w", is.ID, err)
			}
		}
	}
	return tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
