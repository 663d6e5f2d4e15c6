package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/config"
	"github.com/gitscout/gitscout/internal/dispatcher"
	"github.com/gitscout/gitscout/internal/extraction"
	"github.com/gitscout/gitscout/internal/telemetry"
)

// enqueueTimeout bounds how long a submit may wait on a full queue.
const enqueueTimeout = 5 * time.Second

// Server wires HTTP handlers to the dispatcher and status store.
type Server struct {
	router     chi.Router
	store      extraction.StatusStore
	dispatcher *dispatcher.Dispatcher
	runs       *RunsHandler
	idGen      extraction.IDGenerator
	clock      extraction.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The runs
// handler is optional; when nil the run history endpoints answer 503.
func NewServer(
	store extraction.StatusStore,
	dispatcher *dispatcher.Dispatcher,
	runs *RunsHandler,
	idGen extraction.IDGenerator,
	clock extraction.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runs == nil {
		runs = NewRunsHandler(nil, logger)
	}
	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		runs:       runs,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	s.mountExtraction(r)
	r.Route("/v1", func(r chi.Router) {
		s.mountExtraction(r)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Get("/{run_id}", s.runs.GetRun)
			r.Get("/{run_id}/surfaces", s.runs.ListRunSurfaces)
		})
	})

	s.router = r
	return s
}

// mountExtraction registers the submit/status pair. The same handlers serve
// the root and the /v1 prefix.
func (s *Server) mountExtraction(r chi.Router) {
	r.Post("/extract", s.submitExtraction)
	r.Get("/status/*", s.getStatus)
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitExtraction handles POST /extract. A fresh submission claims the job
// row, enqueues a run, and answers 202; submitting a path whose job is still
// running joins that run and answers 200. Neither waits on extraction work.
func (s *Server) submitExtraction(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	repoPath := strings.TrimSpace(req.RepoPath)
	if err := extraction.ValidateRepoPath(repoPath); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, fresh, err := s.store.StartJob(r.Context(), repoPath, "Email extraction started")
	if err != nil {
		s.logger.Error("job claim failed", zap.String("repo_path", repoPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start extraction")
		return
	}
	if !fresh {
		writeJSON(w, http.StatusOK, toJobState(job, nil))
		return
	}

	runID, err := s.idGen.NewID()
	if err != nil {
		s.failSubmission(r.Context(), repoPath)
		s.logger.Error("run id generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start extraction")
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	run := extraction.RunRequest{
		RunID:     runID,
		RepoPath:  repoPath,
		Attempt:   1,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, run); err != nil {
		s.failSubmission(r.Context(), repoPath)
		s.logger.Error("run enqueue failed",
			zap.String("run_id", runID),
			zap.String("repo_path", repoPath),
			zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, "failed to enqueue extraction")
		return
	}
	writeJSON(w, http.StatusAccepted, toJobState(job, nil))
}

// failSubmission lands a claimed but never-enqueued job on the error status
// so a later submit can reset it instead of joining a run that will never
// execute.
func (s *Server) failSubmission(ctx context.Context, repoPath string) {
	if err := s.store.UpsertJob(ctx, repoPath, extraction.JobStatusError, "Failed to start extraction"); err != nil {
		s.logger.Error("submission cleanup failed", zap.String("repo_path", repoPath), zap.Error(err))
	}
}

// getStatus handles GET /status/{repo_path}. The trailing segment may be an
// escaped owner%2Frepo or a plain owner/repo path.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	repoPath := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(repoPath); err == nil {
		repoPath = unescaped
	}
	repoPath = strings.TrimSpace(repoPath)
	if repoPath == "" {
		writeError(w, http.StatusBadRequest, extraction.ErrEmptyRepoPath.Error())
		return
	}

	job, err := s.store.GetJob(r.Context(), repoPath)
	if err != nil {
		if errors.Is(err, extraction.ErrNotFound) {
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("No extraction found for repository %s", repoPath))
			return
		}
		s.logger.Error("job lookup failed", zap.String("repo_path", repoPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	contributors, err := s.store.ListContributors(r.Context(), repoPath)
	if err != nil {
		s.logger.Error("contributor list failed", zap.String("repo_path", repoPath), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load contributors")
		return
	}
	writeJSON(w, http.StatusOK, toJobState(job, contributors))
}

type extractRequest struct {
	RepoPath string `json:"repo_path"`
}

// jobState is the wire shape shared by submit and status responses.
type jobState struct {
	RepoPath     string                   `json:"repo_path"`
	Status       extraction.JobStatus     `json:"status"`
	Message      string                   `json:"message,omitempty"`
	Contributors []extraction.Contributor `json:"contributors,omitempty"`
}

func toJobState(job extraction.Job, contributors []extraction.Contributor) jobState {
	return jobState{
		RepoPath:     job.RepoPath,
		Status:       job.Status,
		Message:      job.Message,
		Contributors: contributors,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
