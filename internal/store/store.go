// Package store provides the SQLite persistence layer for casegraph.
//
// A single database file holds:
// - Named projects, each the latest persisted graph document
// - A bounded revision trail per project
// - An append-only event log of engine activity
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.casegraph/casegraph.db"

// DefaultMaxRevisions is how many revisions are kept per project.
const DefaultMaxRevisions = 50

// ErrProjectNotFound is returned when a named project or revision does not exist.
var ErrProjectNotFound = errors.New("project not found")

// ProjectInfo summarizes a saved project.
type ProjectInfo struct {
	Name          string    `json:"name"`
	Entities      int       `json:"entities"`
	Relationships int       `json:"relationships"`
	Clusters      int       `json:"clusters"`
	Revisions     int       `json:"revisions"`
	Hash          string    `json:"hash"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Revision is one saved version of a project document.
type Revision struct {
	ID        int64     `json:"id"`
	Project   string    `json:"project"`
	Hash      string    `json:"hash"`
	Entities  int       `json:"entities"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is an entry in the append-only activity log.
type Event struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	Op          string    `json:"op"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	ProjectCount  int64 `json:"projects"`
	RevisionCount int64 `json:"revisions"`
	EventCount    int64 `json:"events"`
	DBSizeBytes   int64 `json:"db_size_bytes"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath       string
	MaxRevisions int
}

// Store defines the persistence interface.
type Store interface {
	// Projects
	SaveProject(ctx context.Context, name string, doc []byte) (*ProjectInfo, error)
	LoadProject(ctx context.Context, name string) ([]byte, error)
	ListProjects(ctx context.Context) ([]ProjectInfo, error)
	DeleteProject(ctx context.Context, name string) error

	// Revisions
	ListRevisions(ctx context.Context, name string, limit int) ([]Revision, error)
	LoadRevision(ctx context.Context, name string, id int64) ([]byte, error)

	// Events
	LogEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, project string, limit int) ([]*Event, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	dbPath       string
	maxRevisions int
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	cfg.DBPath = expandPath(cfg.DBPath)
	if cfg.MaxRevisions <= 0 {
		cfg.MaxRevisions = DefaultMaxRevisions
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:           db,
		dbPath:       cfg.DBPath,
		maxRevisions: cfg.MaxRevisions,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never automatic.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns current database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM projects", &stats.ProjectCount},
		{"SELECT COUNT(*) FROM project_revisions", &stats.RevisionCount},
		{"SELECT COUNT(*) FROM events", &stats.EventCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	// Size only means something for file-based DBs
	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
			return nil, fmt.Errorf("querying page count: %w", err)
		}
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
			return nil, fmt.Errorf("querying page size: %w", err)
		}
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
