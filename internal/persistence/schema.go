package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS caches (
		category TEXT PRIMARY KEY,
		build_id INTEGER NOT NULL,
		run_id TEXT NOT NULL,
		config TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS versioned_results (
		category TEXT NOT NULL,
		package TEXT NOT NULL,
		last_attempted INTEGER NOT NULL,
		last_successful INTEGER NOT NULL,
		effecting_project INTEGER NOT NULL,
		effecting_dependents INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (category, package),
		FOREIGN KEY (category) REFERENCES caches(category) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		root TEXT NOT NULL,
		build_id INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		succeeded INTEGER NOT NULL,
		packages INTEGER NOT NULL,
		rebuilt INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		link TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
