package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the extraction_runs status column.
type RunStatus string

// Run statuses persisted in extraction_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models the extraction_runs table for API responses.
type Run struct {
	// ID is the run identifier minted at submit time.
	ID uuid.UUID
	// RepoPath is the repository the run extracted.
	RepoPath string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// SurfaceStats captures per-search-surface aggregation for a run.
type SurfaceStats struct {
	// RunID is the owning run.
	RunID uuid.UUID
	// Surface names the search source (dblp, arxiv, websearch, pdf).
	Surface string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Lookups counts completed lookups against the surface.
	Lookups int64
	// Hits counts lookups that produced a usable email.
	Hits int64
	// Misses counts lookups that finished without a candidate.
	Misses int64
	// Failures counts lookups that errored or timed out.
	Failures int64
	// BytesTotal accumulates fetched response bytes.
	BytesTotal int64
}

// RunRepository persists incremental run history.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the run row.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, repoPath string, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertSurfaceStats applies lookup/byte deltas per (run, surface, outcome).
	UpsertSurfaceStats(
		ctx context.Context,
		runID uuid.UUID,
		surface string,
		deltaLookups int64,
		deltaBytes int64,
		outcome string,
		at time.Time,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunSurfaces returns aggregated surface stats for one run.
	ListRunSurfaces(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SurfaceStats, error)
}
