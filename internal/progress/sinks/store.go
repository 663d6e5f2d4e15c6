package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/progress"
	"github.com/gitscout/gitscout/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. It batches
// surface-level counters to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses surface deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageLookupDone:
			s.recordSurfaceStats(stats, runID, evt)
		}
	}

	for key, delta := range stats {
		if delta.lookups == 0 && delta.bytes == 0 {
			continue
		}
		if err := s.repo.UpsertSurfaceStats(
			ctx,
			key.runID,
			key.surface,
			delta.lookups,
			delta.bytes,
			key.outcome,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert surface stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.RepoPath, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordSurfaceStats(stats map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Surface == "" {
		return
	}
	key := statsKey{
		runID:   runID,
		surface: evt.Surface,
		outcome: storeOutcome(evt.Outcome),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.lookups += evt.Lookups
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// storeOutcome folds timeout into failure; the repository tracks three
// counters.
func storeOutcome(o progress.Outcome) string {
	switch o {
	case progress.OutcomeHit:
		return "hit"
	case progress.OutcomeMiss:
		return "miss"
	default:
		return "failure"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID   uuid.UUID
	surface string
	outcome string
}

type statsDelta struct {
	lookups int64
	bytes   int64
	at      time.Time
}
