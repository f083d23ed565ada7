// Package persistence stores the versioned results caches between runs.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/pkgbuild/internal/cache"
)

// RunRecord summarises one finished run.
type RunRecord struct {
	RunID      string
	Root       string
	BuildID    uint64 // Library build id of the run
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  bool
	Packages   int
	Rebuilt    int
	Failed     int
	Link       string // Reason given by the link decision
}

// Store defines the persistence interface for results caches and run history.
type Store interface {
	// LoadSnapshot returns the persisted cache of category, or nil if none exists.
	LoadSnapshot(ctx context.Context, category cache.Category) (*cache.Snapshot, error)
	// SaveRun replaces the persisted caches with snaps and records run, atomically.
	SaveRun(ctx context.Context, snaps []*cache.Snapshot, run RunRecord) error
	// LastRun returns the most recent run, or nil if there is none.
	LastRun(ctx context.Context) (*RunRecord, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryConfig
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Every store gets its own named database shared by its connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; pragmas apply per connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, retry: DefaultRetryConfig()}

	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
