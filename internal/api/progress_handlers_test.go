package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/store"
)

func TestRunsHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{
		runs: []store.Run{
			{
				ID:        uuid.New(),
				RepoPath:  "openai/whisper",
				Status:    store.RunSuccess,
				StartedAt: time.Now().Add(-time.Hour),
			},
		},
	}
	handler := NewRunsHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=success&limit=10", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "runs")
	require.Contains(t, rec.Body.String(), "openai/whisper")
}

func TestRunsHandlerListRunsInvalidStatus(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=bogus", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockRunRepo{err: store.ErrNotFound}
	handler := NewRunsHandler(repo, zap.NewNop())

	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(&mockRunRepo{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil)
	req = withRunIDParam(req, "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsHandlerListRunSurfacesInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(&mockRunRepo{}, zap.NewNop())
	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/surfaces?limit=-1", nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.ListRunSurfaces(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsHandlerNilRepoAnswers503(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type mockRunRepo struct {
	runs     []store.Run
	surfaces []store.SurfaceStats
	err      error
}

func (m *mockRunRepo) UpsertRunStart(context.Context, uuid.UUID, string, time.Time) error {
	return m.err
}

func (m *mockRunRepo) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return m.err
}

func (m *mockRunRepo) UpsertSurfaceStats(context.Context, uuid.UUID, string, int64, int64, string, time.Time) error {
	return m.err
}

func (m *mockRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	if len(m.runs) > 0 {
		return m.runs[0], nil
	}
	return store.Run{}, m.err
}

func (m *mockRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return m.runs, m.err
}

func (m *mockRunRepo) ListRunSurfaces(context.Context, uuid.UUID, int, int) ([]store.SurfaceStats, error) {
	return m.surfaces, m.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
