// Package datasource reads beads SQLite databases on behalf of the
// navigation tree. It locates the database of a connection, compiles filter
// constraints into SQL and runs counts and attribute scans inside read
// transactions.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vanderheijden86/beadnav/pkg/model"
)

// DatabaseName is the file beads keeps its SQLite database in.
const DatabaseName = "beads.db"

// ErrNoDatabase is returned when a beads directory holds no database.
var ErrNoDatabase = errors.New("datasource: no beads database found")

// DataSource describes a discovered beads database.
type DataSource struct {
	// Path is the absolute path to the database file
	Path string `json:"path"`
	// ModTime is the last modification time of the database or its WAL
	ModTime time.Time `json:"mod_time"`
	// Size is the file size in bytes
	Size int64 `json:"size"`
	// Valid indicates whether the source passed validation
	Valid bool `json:"valid"`
	// ValidationError describes why validation failed (if Valid is false)
	ValidationError string `json:"validation_error,omitempty"`
	// IssueCount is the number of live issues (set during validation)
	IssueCount int `json:"issue_count"`
}

// String returns a human-readable description of the source
func (s DataSource) String() string {
	status := "valid"
	if !s.Valid {
		status = fmt.Sprintf("invalid: %s", s.ValidationError)
	}
	return fmt.Sprintf("%s (mod=%s, issues=%d, %s)",
		s.Path, s.ModTime.Format(time.RFC3339), s.IssueCount, status)
}

// DiscoveryOptions configures source discovery behavior
type DiscoveryOptions struct {
	// BeadsDir is the .beads directory path (optional, auto-detected if empty)
	BeadsDir string
	// RepoPath is the repository root path (optional, uses cwd if empty)
	RepoPath string
	// Logger receives progress messages (optional)
	Logger func(msg string)
}

// ResolveBeadsDir returns the beads directory selected by opts, falling back
// to BEADS_DIR and then to .beads under the repository path.
func ResolveBeadsDir(opts DiscoveryOptions) (string, error) {
	if opts.BeadsDir != "" {
		return filepath.Abs(opts.BeadsDir)
	}
	if envDir := os.Getenv("BEADS_DIR"); envDir != "" {
		return filepath.Abs(envDir)
	}
	repoPath := opts.RepoPath
	if repoPath == "" {
		var err error
		repoPath, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	return filepath.Abs(filepath.Join(repoPath, ".beads"))
}

// Discover finds the beads database selected by opts.
func Discover(opts DiscoveryOptions) (DataSource, error) {
	if opts.Logger == nil {
		opts.Logger = func(string) {}
	}
	beadsDir, err := ResolveBeadsDir(opts)
	if err != nil {
		return DataSource{}, err
	}
	opts.Logger(fmt.Sprintf("Discovering database in: %s", beadsDir))

	dbPath := filepath.Join(beadsDir, DatabaseName)
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DataSource{}, fmt.Errorf("%w in %s", ErrNoDatabase, beadsDir)
		}
		return DataSource{}, err
	}

	src := DataSource{Path: dbPath, ModTime: info.ModTime(), Size: info.Size()}
	if wal, err := os.Stat(dbPath + "-wal"); err == nil && wal.ModTime().After(src.ModTime) {
		src.ModTime = wal.ModTime()
	}
	opts.Logger(fmt.Sprintf("Found SQLite: %s (mod=%s)", dbPath, src.ModTime.Format(time.RFC3339)))
	return src, nil
}

// ValidateSource opens the database and counts its issues, recording the
// outcome on s.
func ValidateSource(ctx context.Context, s *DataSource) error {
	store, err := Open(model.Connection{}, s.Path)
	if err != nil {
		s.Valid = false
		s.ValidationError = err.Error()
		return err
	}
	defer store.Close()

	n, err := store.CountIssues(ctx)
	if err != nil {
		s.Valid = false
		s.ValidationError = err.Error()
		return fmt.Errorf("validate %s: %w", s.Path, err)
	}
	s.Valid = true
	s.ValidationError = ""
	s.IssueCount = n
	return nil
}

// OpenConnection discovers and opens the database of conn.
func OpenConnection(ctx context.Context, conn model.Connection) (*Store, error) {
	src, err := Discover(DiscoveryOptions{BeadsDir: conn.BeadsDir})
	if err != nil {
		return nil, err
	}
	store, err := Open(conn, src.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite source %s: %w", src.Path, err)
	}
	if _, err := store.CountIssues(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("connection %s: %w", conn.Name, err)
	}
	return store, nil
}
