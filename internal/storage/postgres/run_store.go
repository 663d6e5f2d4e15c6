package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitscout/gitscout/internal/store"
)

type queryPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements the store.RunRepository interface using Postgres.
type RunStore struct {
	pool queryPool
}

// NewRunStore creates a new RunStore.
func NewRunStore(ctx context.Context, dsn string) (*RunStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool queryPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run history tables when they do not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS extraction_runs (
			id UUID PRIMARY KEY,
			repo_path TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS surface_stats (
			run_id UUID NOT NULL,
			surface TEXT NOT NULL,
			last_update TIMESTAMPTZ NOT NULL,
			lookups BIGINT NOT NULL DEFAULT 0,
			hits BIGINT NOT NULL DEFAULT 0,
			misses BIGINT NOT NULL DEFAULT 0,
			failures BIGINT NOT NULL DEFAULT 0,
			bytes_total BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, surface)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure run schema: %w", err)
		}
	}
	return nil
}

// UpsertRunStart inserts or refreshes a run's start record.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, repoPath string, startedAt time.Time) error {
	query := `
		INSERT INTO extraction_runs (id, repo_path, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE extraction_runs.status <> EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query, runID, repoPath, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE extraction_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// UpsertSurfaceStats updates the lookup counters for a search surface within a run.
func (s *RunStore) UpsertSurfaceStats(
	ctx context.Context,
	runID uuid.UUID,
	surface string,
	deltaLookups,
	deltaBytes int64,
	outcome string,
	at time.Time,
) error {
	var query string
	switch outcome {
	case "hit":
		query = `UPDATE surface_stats SET lookups = lookups + $1,
			bytes_total = bytes_total + $2,
			hits = hits + $1,
			last_update = $3
			WHERE run_id = $4 AND surface = $5;`
	case "miss":
		query = `UPDATE surface_stats SET lookups = lookups + $1,
			bytes_total = bytes_total + $2,
			misses = misses + $1,
			last_update = $3
			WHERE run_id = $4 AND surface = $5;`
	case "failure":
		query = `UPDATE surface_stats SET lookups = lookups + $1,
			bytes_total = bytes_total + $2,
			failures = failures + $1,
			last_update = $3
			WHERE run_id = $4 AND surface = $5;`
	default:
		return fmt.Errorf("unknown outcome: %s", outcome)
	}

	res, err := s.pool.Exec(ctx, query, deltaLookups, deltaBytes, at, runID, surface)
	if err != nil {
		return fmt.Errorf("failed to update surface stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		var hits, misses, failures int64
		switch outcome {
		case "hit":
			hits = deltaLookups
		case "miss":
			misses = deltaLookups
		case "failure":
			failures = deltaLookups
		}

		query = `
			INSERT INTO surface_stats (run_id, surface, last_update, lookups, bytes_total, hits, misses, failures)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (run_id, surface) DO NOTHING;
		`
		_, err = s.pool.Exec(
			ctx,
			query,
			runID,
			surface,
			at,
			deltaLookups,
			deltaBytes,
			hits,
			misses,
			failures,
		)
		if err != nil {
			return fmt.Errorf("failed to insert surface stats: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a single extraction run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, repo_path, started_at, finished_at, status, error_message
		FROM extraction_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.RepoPath,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves a list of extraction runs, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := `
		SELECT id, repo_path, started_at, finished_at, status, error_message
		FROM extraction_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		err := rows.Scan(
			&run.ID,
			&run.RepoPath,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListRunSurfaces retrieves aggregated surface statistics for a given run.
func (s *RunStore) ListRunSurfaces(
	ctx context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.SurfaceStats, error) {
	query := `
		SELECT run_id, surface, last_update, lookups, hits, misses, failures, bytes_total
		FROM surface_stats
		WHERE run_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run surfaces: %w", err)
	}
	defer rows.Close()

	var stats []store.SurfaceStats
	for rows.Next() {
		var stat store.SurfaceStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Surface,
			&stat.LastUpdate,
			&stat.Lookups,
			&stat.Hits,
			&stat.Misses,
			&stat.Failures,
			&stat.BytesTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan surface stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
