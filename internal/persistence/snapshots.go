package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/pkgbuild/internal/cache"
)

// LoadSnapshot returns the persisted cache of category, or nil if none exists.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, category cache.Category) (*cache.Snapshot, error) {
	snap := &cache.Snapshot{Category: category, Results: make(map[string]*cache.VersionedResult)}
	var configJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT build_id, run_id, config
		FROM caches
		WHERE category = ?
	`, string(category)).Scan(&snap.BuildID, &snap.RunID, &configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s cache: %w", category, err)
	}

	if err := json.Unmarshal([]byte(configJSON), &snap.Config); err != nil {
		return nil, fmt.Errorf("failed to decode %s cache config: %w", category, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT package, payload
		FROM versioned_results
		WHERE category = ?
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s results: %w", category, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		var r cache.VersionedResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("failed to decode result for %s: %w", name, err)
		}
		if err := r.CheckInvariants(snap.BuildID); err != nil {
			return nil, fmt.Errorf("persisted result for %s is corrupt: %w", name, err)
		}
		snap.Results[name] = &r
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return snap, nil
}

// SaveRun replaces the persisted caches with snaps and records run in a
// single transaction, retrying while the database is locked.
func (s *SQLiteStore) SaveRun(ctx context.Context, snaps []*cache.Snapshot, run RunRecord) error {
	return withRetry(ctx, s.retry, func() error {
		return s.saveRun(ctx, snaps, run)
	})
}

func (s *SQLiteStore) saveRun(ctx context.Context, snaps []*cache.Snapshot, run RunRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, snap := range snaps {
		if err := saveSnapshot(ctx, tx, snap); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, root, build_id, started_at, finished_at, succeeded, packages, rebuilt, failed, link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			succeeded = excluded.succeeded,
			packages = excluded.packages,
			rebuilt = excluded.rebuilt,
			failed = excluded.failed,
			link = excluded.link
	`, run.RunID, run.Root, run.BuildID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.Succeeded, run.Packages, run.Rebuilt, run.Failed, run.Link)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func saveSnapshot(ctx context.Context, tx *sql.Tx, snap *cache.Snapshot) error {
	configJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("failed to encode %s cache config: %w", snap.Category, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO caches (category, build_id, run_id, config, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(category) DO UPDATE SET
			build_id = excluded.build_id,
			run_id = excluded.run_id,
			config = excluded.config,
			updated_at = CURRENT_TIMESTAMP
	`, string(snap.Category), snap.BuildID, snap.RunID, string(configJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert %s cache: %w", snap.Category, err)
	}

	// The cache is persisted in full: drop what the previous run stored
	if _, err := tx.ExecContext(ctx, `DELETE FROM versioned_results WHERE category = ?`, string(snap.Category)); err != nil {
		return fmt.Errorf("failed to clear %s results: %w", snap.Category, err)
	}

	for name, r := range snap.Results {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode result for %s: %w", name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO versioned_results (category, package, last_attempted, last_successful, effecting_project, effecting_dependents, outcome, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, string(snap.Category), name, r.LastAttemptedBuildID, r.LastSuccessfulBuildID,
			r.LastBuildIDEffectingProject, r.LastBuildIDEffectingDependents, r.Outcome.Kind.String(), string(payload))
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", name, err)
		}
	}

	return nil
}

// LastRun returns the most recent run, or nil if there is none.
func (s *SQLiteStore) LastRun(ctx context.Context) (*RunRecord, error) {
	var run RunRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, root, build_id, started_at, finished_at, succeeded, packages, rebuilt, failed, link
		FROM runs
		ORDER BY finished_at DESC
		LIMIT 1
	`).Scan(&run.RunID, &run.Root, &run.BuildID, &run.StartedAt, &run.FinishedAt, &run.Succeeded, &run.Packages, &run.Rebuilt, &run.Failed, &run.Link)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last run: %w", err)
	}
	return &run, nil
}
