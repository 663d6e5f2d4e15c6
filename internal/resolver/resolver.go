// Package resolver hunts contact emails for repository contributors.
//
// Surfaces are tried in tiers: academic bibliography sites first, then a
// general web search, and finally the papers discovered along the way are
// downloaded and scanned as documents. The first tier that produces a
// usable candidate decides the answer; within a tier academic addresses
// outrank the rest, then source frequency, then first appearance.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/extraction"
	"github.com/gitscout/gitscout/internal/progress"
)

// Surface names used for lookup events and evidence attribution.
const (
	surfaceDBLP  = "dblp"
	surfaceArxiv = "arxiv"
	surfaceWeb   = "websearch"
	surfacePDF   = "pdf"
)

// Config controls surface endpoints and scan limits.
type Config struct {
	// MaxPapers caps electronic-edition links collected per author and
	// documents scanned in the PDF tier.
	MaxPapers int
	// MaxSearchResults caps arXiv feed entries and web results visited.
	MaxSearchResults int
	// PDFMaxPages bounds text extraction per document.
	PDFMaxPages int
	// BlockedDomains holds exact hosts or *.suffix patterns never fetched.
	BlockedDomains []string

	DBLPBaseURL      string
	ArxivBaseURL     string
	WebSearchBaseURL string

	// HeadlessEnabled allows promotion of thin pages to the headless
	// fetcher.
	HeadlessEnabled bool

	// BlobPrefix and BlobContentType shape evidence archiving.
	BlobPrefix      string
	BlobContentType string

	// MaxRetries, BackoffInitial and BackoffMax tune the fetch retry loop.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Resolver implements extraction.Resolver over HTTP search surfaces.
type Resolver struct {
	cfg      Config
	fetcher  extraction.Fetcher
	headless extraction.Fetcher
	detector extraction.HeadlessDetector
	throttle extraction.Throttle
	blobs    extraction.BlobStore
	evidence extraction.EvidenceStore
	hasher   extraction.Hasher
	clock    extraction.Clock
	ids      extraction.IDGenerator
	hub      *progress.Hub
	logger   *zap.Logger

	blocked *domainBlocklist
	retry   retryPolicy
}

// New constructs a Resolver. Every dependency except the probe fetcher is
// optional; absent ones disable the concern they serve.
func New(
	cfg Config,
	fetcher extraction.Fetcher,
	headless extraction.Fetcher,
	detector extraction.HeadlessDetector,
	throttle extraction.Throttle,
	blobs extraction.BlobStore,
	evidence extraction.EvidenceStore,
	hasher extraction.Hasher,
	clock extraction.Clock,
	ids extraction.IDGenerator,
	hub *progress.Hub,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPapers <= 0 {
		cfg.MaxPapers = 3
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 5
	}
	if cfg.PDFMaxPages <= 0 {
		cfg.PDFMaxPages = 3
	}
	if cfg.DBLPBaseURL == "" {
		cfg.DBLPBaseURL = "https://dblp.org"
	}
	if cfg.ArxivBaseURL == "" {
		cfg.ArxivBaseURL = "https://export.arxiv.org"
	}
	if cfg.WebSearchBaseURL == "" {
		cfg.WebSearchBaseURL = "https://html.duckduckgo.com"
	}
	if cfg.BlobContentType == "" {
		cfg.BlobContentType = "application/pdf"
	}
	return &Resolver{
		cfg:      cfg,
		fetcher:  fetcher,
		headless: headless,
		detector: detector,
		throttle: throttle,
		blobs:    blobs,
		evidence: evidence,
		hasher:   hasher,
		clock:    clock,
		ids:      ids,
		hub:      hub,
		logger:   logger,
		blocked:  newDomainBlocklist(cfg.BlockedDomains),
		retry:    newRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
	}
}

// Resolve hunts an email for one contributor. An empty result with a nil
// error means no usable candidate surfaced, which is a normal outcome.
// When the context budget expires before any candidate is found the error
// wraps extraction.ErrResolutionTimeout.
func (r *Resolver) Resolve(ctx context.Context, name string, affiliation string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", nil
	}
	ses := r.newSession(ctx, trimmed)

	r.runSurface(ctx, ses, surfaceDBLP, func(ctx context.Context) {
		r.searchDBLP(ctx, ses)
	})
	if ctx.Err() == nil && ses.candidates.size() == 0 {
		r.runSurface(ctx, ses, surfaceArxiv, func(ctx context.Context) {
			r.searchArxiv(ctx, ses)
		})
	}
	if ctx.Err() == nil && ses.candidates.size() == 0 {
		r.runSurface(ctx, ses, surfaceWeb, func(ctx context.Context) {
			r.searchWeb(ctx, ses, affiliation)
		})
	}
	if ctx.Err() == nil && ses.candidates.size() == 0 && len(ses.pdfQueue) > 0 {
		r.runSurface(ctx, ses, surfacePDF, func(ctx context.Context) {
			r.scanQueuedPDFs(ctx, ses)
		})
	}

	if best := ses.candidates.best(); best != "" {
		r.logger.Info("email resolved",
			zap.String("contributor", trimmed),
			zap.Int("candidates", ses.candidates.size()))
		return best, nil
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("resolve %s: %w", trimmed, extraction.ErrResolutionTimeout)
		}
		return "", fmt.Errorf("resolve %s: %w", trimmed, err)
	}
	return "", nil
}

// runSurface wraps one surface hunt with lookup telemetry.
func (r *Resolver) runSurface(ctx context.Context, ses *session, surface string, hunt func(context.Context)) {
	r.emitLookup(ses, surface, progress.StageLookupStart, "", 0, 0)
	start := time.Now()
	before := ses.candidates.size()
	hunt(ctx)
	tally := ses.tally(surface)
	outcome := surfaceOutcome(ctx, ses.candidates.size() > before, tally)
	r.emitLookup(ses, surface, progress.StageLookupDone, outcome, tally.bytes, time.Since(start))
	r.logger.Debug("surface hunt finished",
		zap.String("surface", surface),
		zap.String("contributor", ses.name),
		zap.String("outcome", string(outcome)),
		zap.Int64("bytes", tally.bytes))
}

func surfaceOutcome(ctx context.Context, added bool, tally *surfaceTally) progress.Outcome {
	switch {
	case added:
		return progress.OutcomeHit
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return progress.OutcomeTimeout
	case tally.failed > 0 && tally.fetched == 0:
		return progress.OutcomeError
	default:
		return progress.OutcomeMiss
	}
}

func (r *Resolver) emitLookup(
	ses *session,
	surface string,
	stage progress.Stage,
	outcome progress.Outcome,
	bytes int64,
	dur time.Duration,
) {
	if ses.eventID == ([16]byte{}) {
		return
	}
	evt := progress.Event{
		RunID:       ses.eventID,
		TS:          r.now(),
		Stage:       stage,
		Surface:     surface,
		Contributor: ses.name,
		Bytes:       bytes,
		Outcome:     outcome,
		Dur:         dur,
	}
	if stage == progress.StageLookupDone {
		evt.Lookups = 1
	}
	r.hub.Emit(evt)
}

func (r *Resolver) now() time.Time {
	if r.clock != nil {
		return r.clock.Now()
	}
	return time.Now().UTC()
}

// session carries the per-contributor state of one resolution hunt.
type session struct {
	name       string
	runID      string
	eventID    [16]byte
	visited    *visitTracker
	candidates *candidateSet
	pdfQueue   []pdfTarget
	queued     map[string]struct{}
	tallies    map[string]*surfaceTally
}

// surfaceTally tracks fetch volume per surface for lookup events.
type surfaceTally struct {
	bytes   int64
	fetched int
	failed  int
}

func (r *Resolver) newSession(ctx context.Context, name string) *session {
	ses := &session{
		name:       name,
		visited:    newVisitTracker(),
		candidates: newCandidateSet(),
		queued:     make(map[string]struct{}),
		tallies:    make(map[string]*surfaceTally),
	}
	if info, ok := extraction.RunInfoFromContext(ctx); ok {
		ses.runID = info.RunID
		if id, err := uuid.Parse(info.RunID); err == nil {
			ses.eventID = progress.UUIDToBytes(id)
		}
	}
	return ses
}

// collect extracts candidates from free text and reports how many were new.
func (s *session) collect(text string) int {
	added := 0
	for _, email := range extraction.ExtractEmails(text) {
		if s.candidates.add(email) {
			added++
		}
	}
	return added
}

// queuePDF defers a document link to the final scan tier.
func (s *session) queuePDF(origin, link string) {
	normalized, err := normalizeURL(link)
	if err != nil {
		return
	}
	if _, dup := s.queued[normalized]; dup {
		return
	}
	s.queued[normalized] = struct{}{}
	s.pdfQueue = append(s.pdfQueue, pdfTarget{origin: origin, url: normalized})
}

func (s *session) tally(surface string) *surfaceTally {
	t, ok := s.tallies[surface]
	if !ok {
		t = &surfaceTally{}
		s.tallies[surface] = t
	}
	return t
}
