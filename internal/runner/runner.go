// Package runner executes extraction runs pulled from the shared queue.
//
// A Runner is one consumer loop. It clones the repository, mines the
// commit history for contributors, hunts an email for each of them and
// records every status transition on the job row so clients polling the
// status endpoint see live progress. The dispatcher owns a fixed pool of
// runners all draining the same queue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/extraction"
	"github.com/gitscout/gitscout/internal/progress"
	"github.com/gitscout/gitscout/internal/telemetry"
)

// Config tunes one runner.
type Config struct {
	// Topic names the completion channel. Empty disables publishing.
	Topic string
	// RunTimeout bounds one whole extraction run. Zero means unbounded.
	RunTimeout time.Duration
	// ResolveTimeout bounds each contributor lookup. Zero means unbounded.
	ResolveTimeout time.Duration
}

// Runner consumes extraction requests and drives each to a terminal status.
type Runner struct {
	queue     extraction.Queue
	store     extraction.StatusStore
	miner     extraction.Miner
	resolver  extraction.Resolver
	publisher extraction.Publisher
	clock     extraction.Clock
	hub       *progress.Hub
	cfg       Config
	logger    *zap.Logger
}

// New assembles a runner. The publisher, clock and hub are optional.
func New(
	queue extraction.Queue,
	store extraction.StatusStore,
	miner extraction.Miner,
	resolver extraction.Resolver,
	publisher extraction.Publisher,
	clock extraction.Clock,
	hub *progress.Hub,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:     queue,
		store:     store,
		miner:     miner,
		resolver:  resolver,
		publisher: publisher,
		clock:     clock,
		hub:       hub,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes requests until the context is canceled.
func (r *Runner) Run(ctx context.Context) {
	for {
		req, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		r.logger.Debug("dequeued extraction run",
			zap.String("run_id", req.RunID),
			zap.String("repo_path", req.RepoPath))
		r.processRun(ctx, req)
	}
}

// processRun walks one request through clone, mining and resolution. Every
// failure lands the job on the error status; resolution misses for single
// contributors are logged and skipped so the run still completes.
func (r *Runner) processRun(ctx context.Context, req extraction.RunRequest) {
	if r.store == nil || r.miner == nil || r.resolver == nil {
		r.logger.Error("runner missing core dependencies",
			zap.String("run_id", req.RunID))
		return
	}

	telemetry.IncActiveRunners()
	defer telemetry.DecActiveRunners()

	tracer := otel.Tracer("gitscout/runner")
	ctx, span := tracer.Start(ctx, "extraction.run",
		trace.WithAttributes(
			attribute.String("run.id", req.RunID),
			attribute.String("repo.path", req.RepoPath),
		),
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}
	ctx = extraction.WithRunInfo(ctx, extraction.RunInfo{
		RunID:    req.RunID,
		RepoPath: req.RepoPath,
	})

	started := r.now()
	eventID := runEventID(req.RunID)
	r.emitRun(progress.Event{
		RunID:    eventID,
		TS:       started,
		Stage:    progress.StageRunStart,
		RepoPath: req.RepoPath,
	})

	r.setStatus(ctx, req.RepoPath, extraction.JobStatusStarted, "Cloning repository...")

	records, err := r.miner.Mine(ctx, req.RepoPath)
	if err != nil {
		span.RecordError(err)
		r.failRun(ctx, req, eventID, started, mineFailureMessage(req.RepoPath, err), err)
		return
	}

	if err := r.store.UpsertContributors(ctx, req.RepoPath, records); err != nil {
		span.RecordError(err)
		r.failRun(ctx, req, eventID, started, "Failed to persist contributors", err)
		return
	}
	r.setStatus(ctx, req.RepoPath, extraction.JobStatusInProgress,
		"Extracting contributors from git logs...")
	r.logger.Info("contributors mined",
		zap.String("run_id", req.RunID),
		zap.String("repo_path", req.RepoPath),
		zap.Int("contributors", len(records)))

	affiliation := extraction.Owner(req.RepoPath)
	resolved := 0
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			r.failRun(ctx, req, eventID, started, runAbortMessage(err), err)
			return
		}
		r.setStatus(ctx, req.RepoPath, extraction.JobStatusInProgress,
			fmt.Sprintf("Searching for email of %s (%d/%d)...", record.Name, i+1, len(records)))

		email, err := r.resolveOne(ctx, record.Name, affiliation)
		if err != nil {
			r.logger.Warn("email resolution failed",
				zap.String("run_id", req.RunID),
				zap.String("contributor", record.Name),
				zap.Error(err))
			continue
		}
		if email == "" {
			continue
		}
		if err := r.store.UpdateContributorEmail(ctx, req.RepoPath, record.Name, email); err != nil {
			r.logger.Warn("email update failed",
				zap.String("run_id", req.RunID),
				zap.String("contributor", record.Name),
				zap.Error(err))
			continue
		}
		resolved++
	}

	r.setStatus(ctx, req.RepoPath, extraction.JobStatusCompleted,
		"Extraction completed successfully")
	r.emitRun(progress.Event{
		RunID: eventID,
		TS:    r.now(),
		Stage: progress.StageRunDone,
		Dur:   r.now().Sub(started),
	})
	telemetry.ObserveJob(string(extraction.JobStatusCompleted))
	span.SetAttributes(
		attribute.Int("contributors", len(records)),
		attribute.Int("resolved", resolved),
	)
	r.logger.Info("extraction run completed",
		zap.String("run_id", req.RunID),
		zap.String("repo_path", req.RepoPath),
		zap.Int("contributors", len(records)),
		zap.Int("resolved", resolved))
	r.publishCompletion(ctx, req, extraction.JobStatusCompleted, len(records), resolved)
}

// resolveOne applies the per-contributor budget around the resolver.
func (r *Runner) resolveOne(ctx context.Context, name, affiliation string) (string, error) {
	if r.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ResolveTimeout)
		defer cancel()
	}
	return r.resolver.Resolve(ctx, name, affiliation)
}

// failRun lands the job on the error status and reports the run as failed.
// The run context may already be canceled or past its deadline here, so the
// terminal writes get their own budget.
func (r *Runner) failRun(
	ctx context.Context,
	req extraction.RunRequest,
	eventID [16]byte,
	started time.Time,
	message string,
	cause error,
) {
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	r.logger.Error("extraction run failed",
		zap.String("run_id", req.RunID),
		zap.String("repo_path", req.RepoPath),
		zap.String("message", message),
		zap.Error(cause))
	r.setStatus(ctx, req.RepoPath, extraction.JobStatusError, message)
	r.emitRun(progress.Event{
		RunID: eventID,
		TS:    r.now(),
		Stage: progress.StageRunError,
		Dur:   r.now().Sub(started),
		Note:  message,
	})
	telemetry.ObserveJob(string(extraction.JobStatusError))
	r.publishCompletion(ctx, req, extraction.JobStatusError, 0, 0)
}

// mineFailureMessage maps mining errors onto the client-facing messages.
// ErrRepositoryNotFound wraps ErrRepositoryUnavailable, so it is matched
// first.
func mineFailureMessage(repoPath string, err error) string {
	switch {
	case errors.Is(err, extraction.ErrEmptyHistory):
		return "No commits found in repository history"
	case errors.Is(err, extraction.ErrRepositoryNotFound):
		return fmt.Sprintf("Repository %s not found", repoPath)
	case errors.Is(err, extraction.ErrRepositoryUnavailable):
		return fmt.Sprintf("Failed to clone repository %s", repoPath)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return runAbortMessage(err)
	default:
		return fmt.Sprintf("Failed to clone repository %s", repoPath)
	}
}

func runAbortMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Extraction run timed out"
	}
	return "Extraction run canceled"
}

// setStatus writes one job transition. Store failures are logged, never
// fatal, so a flaky status write cannot kill a run mid-flight.
func (r *Runner) setStatus(ctx context.Context, repoPath string, status extraction.JobStatus, message string) {
	if err := r.store.UpsertJob(ctx, repoPath, status, message); err != nil {
		r.logger.Error("status update failed",
			zap.String("repo_path", repoPath),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// publishCompletion pushes the terminal payload when a topic is configured.
func (r *Runner) publishCompletion(
	ctx context.Context,
	req extraction.RunRequest,
	status extraction.JobStatus,
	contributors, resolved int,
) {
	if r.cfg.Topic == "" || r.publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":       req.RunID,
		"repo_path":    req.RepoPath,
		"status":       string(status),
		"contributors": contributors,
		"resolved":     resolved,
		"finished_at":  r.now().Format(time.RFC3339),
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, payload)
	if err != nil {
		r.logger.Error("completion publish failed",
			zap.String("run_id", req.RunID),
			zap.Error(err))
		return
	}
	r.logger.Info("completion published",
		zap.String("run_id", req.RunID),
		zap.String("message_id", id),
		zap.String("status", string(status)))
}

// emitRun forwards a run lifecycle event when the run carries a usable ID.
func (r *Runner) emitRun(evt progress.Event) {
	if evt.RunID == ([16]byte{}) {
		return
	}
	r.hub.Emit(evt)
}

// runEventID converts the run UUID to the event key. Non-UUID run IDs
// produce the zero key, which suppresses event emission.
func runEventID(runID string) [16]byte {
	id, err := uuid.Parse(runID)
	if err != nil {
		return [16]byte{}
	}
	return progress.UUIDToBytes(id)
}

func (r *Runner) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return time.Now().UTC()
}
