// Package progress defines the event structures emitted by extraction runners.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunHB       Stage = "RUN_HEARTBEAT"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageLookupStart Stage = "LOOKUP_START"
	StageLookupDone  Stage = "LOOKUP_DONE"
)

// Outcome is the coarse result of one email lookup.
type Outcome string

// Supported lookup outcomes.
const (
	OutcomeHit     Outcome = "hit"
	OutcomeMiss    Outcome = "miss"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Event captures a single component of extraction progress.
type Event struct {
	// RunID uniquely identifies an extraction run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or lookup milestone occurred.
	Stage Stage
	// RepoPath names the repository being mined; required for run starts.
	RepoPath string
	// Surface scopes lookup events to a search surface (dblp, arxiv, ...).
	Surface string
	// Contributor is the author name the lookup concerns.
	Contributor string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// Bytes carries the response size delta for the lookup.
	Bytes int64
	// Lookups increments by one for each completed surface query.
	Lookups int64
	// Outcome groups lookup results (hit, miss, error, timeout).
	Outcome Outcome
	// Dur captures execution latency for lookups and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunHB, StageRunDone, StageRunError:
	case StageRunStart:
		if e.RepoPath == "" {
			return errors.New("run start requires repo path")
		}
	case StageLookupStart:
		if e.Surface == "" {
			return errors.New("lookup start requires surface")
		}
	case StageLookupDone:
		if e.Surface == "" {
			return errors.New("lookup done requires surface")
		}
		if e.Outcome == "" {
			return errors.New("lookup done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyOutcome maps one resolver result to a lookup outcome.
func ClassifyOutcome(email string, err error) Outcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case err != nil:
		return OutcomeError
	case email != "":
		return OutcomeHit
	default:
		return OutcomeMiss
	}
}
