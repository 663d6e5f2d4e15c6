package extraction

import (
	"context"
	"io"
	"time"
)

// StatusStore persists job and contributor state keyed by repository path.
//
// StartJob claims a run: it creates the job row (or resets a terminal one)
// and reports fresh=true exactly once per run, no matter how many callers
// race on the same path. Writes are read-your-writes and serialized per
// path so a job never mixes data from two runs.
type StatusStore interface {
	StartJob(ctx context.Context, repoPath string, message string) (job Job, fresh bool, err error)
	UpsertJob(ctx context.Context, repoPath string, status JobStatus, message string) error
	GetJob(ctx context.Context, repoPath string) (Job, error)
	UpsertContributors(ctx context.Context, repoPath string, records []ContributorRecord) error
	UpdateContributorEmail(ctx context.Context, repoPath string, name string, email string) error
	ListContributors(ctx context.Context, repoPath string) ([]Contributor, error)
}

// Miner clones a repository and aggregates contributors from its history.
type Miner interface {
	Mine(ctx context.Context, repoPath string) ([]ContributorRecord, error)
}

// Resolver hunts a contact email for one contributor. An empty email with
// a nil error means no usable candidate was found, which is a normal
// outcome.
type Resolver interface {
	Resolve(ctx context.Context, name string, affiliation string) (string, error)
}

// Queue provides enqueue/dequeue semantics for extraction runs.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless re-fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Throttle paces outbound traffic per host.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// EvidenceStore indexes archived evidence documents.
type EvidenceStore interface {
	StoreEvidence(ctx context.Context, record EvidenceRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact naming and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
