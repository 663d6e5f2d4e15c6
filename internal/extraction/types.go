// Package extraction defines core types shared across subsystems.
package extraction

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

// Job status values persisted in the status store.
const (
	JobStatusStarted    JobStatus = "started"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether the status is an end state. Terminal jobs stay
// put until a new submission resets them.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Job represents the metadata persisted for each submitted repository.
// Jobs are keyed by repository path and are never deleted.
type Job struct {
	RepoPath string    `json:"repo_path"`
	Status   JobStatus `json:"status"`
	Message  string    `json:"message,omitempty"`
	Created  time.Time `json:"created_at"`
	Updated  time.Time `json:"updated_at"`
}

// Contributor is the stored view of one repository author. Email stays nil
// until the resolver finds one; it is updated independently of the rest of
// the row.
type Contributor struct {
	Name        string     `json:"name"`
	Email       *string    `json:"email,omitempty"`
	CommitCount int        `json:"commit_count"`
	FirstCommit *time.Time `json:"first_commit_date,omitempty"`
	LastCommit  *time.Time `json:"last_commit_date,omitempty"`
}

// ContributorRecord is the miner's output for one author: commit stats
// aggregated across the identities that collapse to the same name. Commit
// metadata emails inform deduplication only and are never part of the
// record.
type ContributorRecord struct {
	Name        string
	CommitCount int
	FirstCommit time.Time
	LastCommit  time.Time
}

// RunRequest wraps one extraction run ready to execute.
type RunRequest struct {
	RunID     string
	RepoPath  string
	Attempt   int
	Submitted int64
}

// FetchRequest captures everything needed to fetch one candidate page.
type FetchRequest struct {
	RunID       string
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// RobotsStatus reports how the robots.txt probe for a fetch concluded.
// Indeterminate means the probe could not complete and the fetch proceeded
// under a permissive fallback.
type RobotsStatus string

// Robots probe outcomes.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// EvidenceRecord describes one archived document that yielded (or failed to
// yield) an email candidate. The blob itself lives in the BlobStore; this
// record is the queryable index entry.
type EvidenceRecord struct {
	ID          string
	RunID       string
	Contributor string
	Surface     string
	URL         string
	Hash        string
	BlobURI     string
	Headers     http.Header
	StatusCode  int
	ContentType string
	RetrievedAt time.Time
}
