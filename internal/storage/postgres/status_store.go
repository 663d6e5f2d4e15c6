// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitscout/gitscout/internal/extraction"
)

// StatusStoreConfig controls the Postgres connection pool used for job and
// contributor rows.
type StatusStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the narrow pool surface the store needs; pgxmock satisfies it.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// StatusStore persists jobs and contributors in the two-table schema.
type StatusStore struct {
	pool dbPool
}

// NewStatusStore creates a Postgres-backed StatusStore using the provided
// config.
func NewStatusStore(ctx context.Context, cfg StatusStoreConfig) (*StatusStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &StatusStore{pool: pool}, nil
}

// NewStatusStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewStatusStoreWithPool(pool dbPool) (*StatusStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StatusStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *StatusStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the two domain tables when they do not exist.
func (s *StatusStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id BIGSERIAL PRIMARY KEY,
			repo_path TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS contributors (
			id BIGSERIAL PRIMARY KEY,
			repo_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			email TEXT,
			commit_count INTEGER NOT NULL DEFAULT 0,
			first_commit_date TIMESTAMPTZ,
			last_commit_date TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (repo_id, name)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// claimQuery inserts the job row or resets a terminal one. The conditional
// update only fires for terminal rows, so exactly one concurrent submitter
// gets a row back; everyone else sees no row and joins the live run.
const claimQuery = `
	INSERT INTO repositories (repo_path, status, message)
	VALUES ($1, $2, $3)
	ON CONFLICT (repo_path) DO UPDATE
	SET status = EXCLUDED.status, message = EXCLUDED.message, updated_at = now()
	WHERE repositories.status IN ('completed', 'error')
	RETURNING id, repo_path, status, message, created_at, updated_at;
`

// StartJob claims a run for the path, resetting terminal rows and clearing
// their previous contributors in the same transaction.
func (s *StatusStore) StartJob(ctx context.Context, repoPath string, message string) (extraction.Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return extraction.Job{}, false, fmt.Errorf("begin claim: %w", err)
	}

	var (
		repoID int64
		job    extraction.Job
	)
	err = tx.QueryRow(ctx, claimQuery, repoPath, extraction.JobStatusStarted, message).Scan(
		&repoID,
		&job.RepoPath,
		&job.Status,
		&job.Message,
		&job.Created,
		&job.Updated,
	)
	switch {
	case err == nil:
		// Fresh claim. Drop rows from the previous run so the new run
		// never mixes with stale contributors.
		if _, err := tx.Exec(ctx, `DELETE FROM contributors WHERE repo_id = $1;`, repoID); err != nil {
			_ = tx.Rollback(ctx)
			return extraction.Job{}, false, fmt.Errorf("clear previous contributors: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return extraction.Job{}, false, fmt.Errorf("commit claim: %w", err)
		}
		return job, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Claim lost: a non-terminal run owns the path. Read and join.
		joined, err := s.getJob(ctx, tx, repoPath)
		if err != nil {
			_ = tx.Rollback(ctx)
			return extraction.Job{}, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return extraction.Job{}, false, fmt.Errorf("commit join: %w", err)
		}
		return joined, false, nil
	default:
		_ = tx.Rollback(ctx)
		return extraction.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
}

// UpsertJob creates or updates the job row for the path.
func (s *StatusStore) UpsertJob(ctx context.Context, repoPath string, status extraction.JobStatus, message string) error {
	query := `
		INSERT INTO repositories (repo_path, status, message)
		VALUES ($1, $2, $3)
		ON CONFLICT (repo_path) DO UPDATE
		SET status = EXCLUDED.status, message = EXCLUDED.message, updated_at = now();
	`
	if _, err := s.pool.Exec(ctx, query, repoPath, status, message); err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const getJobQuery = `
	SELECT repo_path, status, message, created_at, updated_at
	FROM repositories
	WHERE repo_path = $1;
`

func (s *StatusStore) getJob(ctx context.Context, q rowQuerier, repoPath string) (extraction.Job, error) {
	var job extraction.Job
	err := q.QueryRow(ctx, getJobQuery, repoPath).Scan(
		&job.RepoPath,
		&job.Status,
		&job.Message,
		&job.Created,
		&job.Updated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return extraction.Job{}, extraction.ErrNotFound
		}
		return extraction.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by repository path.
func (s *StatusStore) GetJob(ctx context.Context, repoPath string) (extraction.Job, error) {
	return s.getJob(ctx, s.pool, repoPath)
}

// UpsertContributors inserts mined records for the path. Existing rows
// keyed by (repo, name) refresh their stats and keep any resolved email.
func (s *StatusStore) UpsertContributors(ctx context.Context, repoPath string, records []extraction.ContributorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin contributor upsert: %w", err)
	}

	var repoID int64
	err = tx.QueryRow(ctx, `SELECT id FROM repositories WHERE repo_path = $1;`, repoPath).Scan(&repoID)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return extraction.ErrNotFound
		}
		return fmt.Errorf("resolve repository id: %w", err)
	}

	query := `
		INSERT INTO contributors (repo_id, name, commit_count, first_commit_date, last_commit_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (repo_id, name) DO UPDATE
		SET commit_count = EXCLUDED.commit_count,
			first_commit_date = EXCLUDED.first_commit_date,
			last_commit_date = EXCLUDED.last_commit_date;
	`
	for _, rec := range records {
		if _, err := tx.Exec(ctx, query, repoID, rec.Name, rec.CommitCount, rec.FirstCommit, rec.LastCommit); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert contributor %q: %w", rec.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit contributor upsert: %w", err)
	}
	return nil
}

// UpdateContributorEmail sets the email for one contributor row.
func (s *StatusStore) UpdateContributorEmail(ctx context.Context, repoPath string, name string, email string) error {
	query := `
		UPDATE contributors
		SET email = $1
		FROM repositories r
		WHERE contributors.repo_id = r.id
		  AND r.repo_path = $2
		  AND contributors.name = $3;
	`
	res, err := s.pool.Exec(ctx, query, email, repoPath, name)
	if err != nil {
		return fmt.Errorf("update contributor email: %w", err)
	}
	if res.RowsAffected() == 0 {
		return extraction.ErrNotFound
	}
	return nil
}

// ListContributors returns contributor rows ordered by commit count
// (descending), then name.
func (s *StatusStore) ListContributors(ctx context.Context, repoPath string) ([]extraction.Contributor, error) {
	query := `
		SELECT c.name, c.email, c.commit_count, c.first_commit_date, c.last_commit_date
		FROM contributors c
		JOIN repositories r ON r.id = c.repo_id
		WHERE r.repo_path = $1
		ORDER BY c.commit_count DESC, c.name;
	`
	rows, err := s.pool.Query(ctx, query, repoPath)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	defer rows.Close()

	var out []extraction.Contributor
	for rows.Next() {
		var c extraction.Contributor
		if err := rows.Scan(&c.Name, &c.Email, &c.CommitCount, &c.FirstCommit, &c.LastCommit); err != nil {
			return nil, fmt.Errorf("scan contributor row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributor rows: %w", err)
	}
	return out, nil
}
