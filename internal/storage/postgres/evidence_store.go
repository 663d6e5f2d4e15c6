package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitscout/gitscout/internal/extraction"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EvidenceStoreConfig controls the Postgres connection pool used for evidence rows.
type EvidenceStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// EvidenceStore writes evidence index rows into Postgres.
type EvidenceStore struct {
	pool  execCloser
	table string
}

// NewEvidenceStore creates a Postgres-backed EvidenceStore using the provided config.
func NewEvidenceStore(ctx context.Context, cfg EvidenceStoreConfig) (*EvidenceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "evidence"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &EvidenceStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewEvidenceStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEvidenceStoreWithPool(pool execCloser, table string) (*EvidenceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "evidence"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EvidenceStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *EvidenceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the evidence table when it does not exist.
func (s *EvidenceStore) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		contributor TEXT NOT NULL,
		surface TEXT NOT NULL,
		url TEXT NOT NULL,
		hash TEXT NOT NULL,
		blob_uri TEXT NOT NULL,
		headers JSONB,
		status_code INTEGER,
		content_type TEXT,
		retrieved_at TIMESTAMPTZ NOT NULL
	)`, s.table)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure evidence schema: %w", err)
	}
	return nil
}

// StoreEvidence inserts an evidence index row into Postgres.
func (s *EvidenceStore) StoreEvidence(ctx context.Context, record extraction.EvidenceRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("evidence store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(record.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	contributor,
	surface,
	url,
	hash,
	blob_uri,
	headers,
	status_code,
	content_type,
	retrieved_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		record.ID,
		record.RunID,
		record.Contributor,
		record.Surface,
		record.URL,
		record.Hash,
		record.BlobURI,
		headersJSON,
		record.StatusCode,
		record.ContentType,
		record.RetrievedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
