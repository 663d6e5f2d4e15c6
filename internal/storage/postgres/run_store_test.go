package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/gitscout/gitscout/internal/store"
)

func TestUpsertRunStart(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	startedAt := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO extraction_runs").
		WithArgs(runID, "openai/whisper", startedAt, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = runs.UpsertRunStart(context.Background(), runID, "openai/whisper", startedAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunWithError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	finishedAt := time.Unix(1700000100, 0).UTC()
	msg := "Failed to clone repository openai/whisper"

	mock.ExpectExec("UPDATE extraction_runs").
		WithArgs(finishedAt, store.RunError, &msg, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = runs.CompleteRun(context.Background(), runID, finishedAt, store.RunError, &msg)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSurfaceStatsUpdatesExistingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE surface_stats").
		WithArgs(int64(1), int64(2048), at, runID, "dblp").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = runs.UpsertSurfaceStats(context.Background(), runID, "dblp", 1, 2048, "hit", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSurfaceStatsInsertsWhenMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE surface_stats").
		WithArgs(int64(1), int64(512), at, runID, "arxiv").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO surface_stats").
		WithArgs(runID, "arxiv", at, int64(1), int64(512), int64(0), int64(1), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = runs.UpsertSurfaceStats(context.Background(), runID, "arxiv", 1, 512, "miss", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSurfaceStatsRejectsUnknownOutcome(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	err = runs.UpsertSurfaceStats(context.Background(), uuid.New(), "dblp", 1, 0, "bogus", time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	mock.ExpectQuery("SELECT id, repo_path, started_at").
		WithArgs(runID).
		WillReturnError(pgx.ErrNoRows)

	_, err = runs.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsWithStatusFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	startedAt := time.Unix(1700000000, 0).UTC()
	status := store.RunSuccess

	mock.ExpectQuery("SELECT id, repo_path, started_at").
		WithArgs(&status, 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "repo_path", "started_at", "finished_at", "status", "error_message"}).
			AddRow(runID, "openai/whisper", startedAt, (*time.Time)(nil), store.RunSuccess, (*string)(nil)))

	got, err := runs.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, runID, got[0].ID)
	require.Equal(t, store.RunSuccess, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunSurfaces(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	runID := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT run_id, surface, last_update").
		WithArgs(runID, 25, 0).
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "surface", "last_update", "lookups", "hits", "misses", "failures", "bytes_total"}).
			AddRow(runID, "dblp", at, int64(4), int64(2), int64(1), int64(1), int64(8192)))

	got, err := runs.ListRunSurfaces(context.Background(), runID, 25, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "dblp", got[0].Surface)
	require.Equal(t, int64(4), got[0].Lookups)
	require.NoError(t, mock.ExpectationsWereMet())
}
