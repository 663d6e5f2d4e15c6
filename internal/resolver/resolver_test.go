package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/extraction"
	"github.com/gitscout/gitscout/internal/progress"
)

func TestResolverAcademicTierWins(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	f.mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/pid/42/1">Ada Lovelace</a></body></html>`)
	})
	f.mux.HandleFunc("/pid/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/doi.org/10.1234/engine">paper</a></body></html>`)
	})
	f.mux.HandleFunc("/doi.org/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>Contact: ada@cs.cam.ac.uk</p></body></html>`)
	})

	r := New(f.config(), f.fetcher(), nil, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())

	email, err := r.Resolve(context.Background(), "Ada Lovelace", "")
	require.NoError(t, err)
	require.Equal(t, "ada@cs.cam.ac.uk", email)

	// Later tiers stay untouched once the bibliography surface hits.
	require.Zero(t, f.recorder.count("/api/query"))
	require.Zero(t, f.recorder.count("/html/"))
}

func TestResolverFallsBackToWebSearch(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	f.mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>no matches</p></body></html>`)
	})
	f.mux.HandleFunc("/api/query", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`)
	})

	var gotQuery string
	var queryMu sync.Mutex
	f.mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		queryMu.Lock()
		gotQuery = r.URL.Query().Get("q")
		queryMu.Unlock()
		fmt.Fprint(w, `<html><body><a class="result__a" href="/profile.html">Grace Hopper</a></body></html>`)
	})
	f.mux.HandleFunc("/profile.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>Reach Grace at grace@hopper.dev</p></body></html>`)
	})

	r := New(f.config(), f.fetcher(), nil, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())

	email, err := r.Resolve(context.Background(), "Grace Hopper", "US Navy")
	require.NoError(t, err)
	require.Equal(t, "grace@hopper.dev", email)

	queryMu.Lock()
	defer queryMu.Unlock()
	require.Equal(t, "Grace Hopper US Navy email", gotQuery)
}

func TestResolverScansPDFsLast(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	paper := buildTestPDF(t, "Correspondence: ada.lovelace@cs.cam.ac.uk")
	f.mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/pid/7/1">Ada Lovelace</a></body></html>`)
	})
	f.mux.HandleFunc("/pid/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/papers/engine.pdf">PDF</a></body></html>`)
	})
	f.mux.HandleFunc("/api/query", func(w http.ResponseWriter, _ *http.Request) {
		// Same document again; the queue must not scan it twice.
		fmt.Fprintf(w, `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom">`+
			`<entry><id>http://arxiv.example/abs/1</id>`+
			`<link title="pdf" href="%s/papers/engine.pdf"/></entry></feed>`, f.baseURL)
	})
	f.mux.HandleFunc("/html/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>nothing useful</p></body></html>`)
	})
	f.mux.HandleFunc("/papers/engine.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(paper)
	})

	blobs := &memoryBlobStore{}
	evidence := &capturingEvidenceStore{}
	retrieved := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cfg := f.config()
	cfg.BlobPrefix = "evidence"

	r := New(cfg, f.fetcher(), nil, nil, nil, blobs, evidence,
		staticHasher{digest: "deadbeef"}, fixedClock{now: retrieved}, staticIDs{id: "ev-1"},
		nil, zap.NewNop())

	runID := uuid.NewString()
	ctx := extraction.WithRunInfo(context.Background(), extraction.RunInfo{
		RunID:    runID,
		RepoPath: "openai/whisper",
	})

	email, err := r.Resolve(ctx, "Ada Lovelace", "")
	require.NoError(t, err)
	require.Equal(t, "ada.lovelace@cs.cam.ac.uk", email)

	// Documents are scanned only after every lighter surface missed.
	pdfAt := f.recorder.index("/papers/engine.pdf")
	webAt := f.recorder.index("/html/")
	require.GreaterOrEqual(t, webAt, 0)
	require.Greater(t, pdfAt, webAt)
	require.Equal(t, 1, f.recorder.count("/papers/engine.pdf"))

	require.Len(t, blobs.paths, 1)
	require.Equal(t, "evidence/"+runID+"/deadbeef.pdf", blobs.paths[0])

	records := evidence.all()
	require.Len(t, records, 1)
	record := records[0]
	require.Equal(t, "ev-1", record.ID)
	require.Equal(t, runID, record.RunID)
	require.Equal(t, "Ada Lovelace", record.Contributor)
	require.Equal(t, "dblp", record.Surface)
	require.Contains(t, record.URL, "/papers/engine.pdf")
	require.Equal(t, "deadbeef", record.Hash)
	require.Equal(t, "mem://evidence/"+runID+"/deadbeef.pdf", record.BlobURI)
	require.Equal(t, http.StatusOK, record.StatusCode)
	require.Equal(t, "application/pdf", record.ContentType)
	require.Equal(t, retrieved, record.RetrievedAt)
}

func TestResolverRanksAcademicOverFrequent(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	f.mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/pid/9/1">Ada Lovelace</a></body></html>`)
	})
	f.mux.HandleFunc("/pid/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>`+
			`<a href="/doi.org/10.1/alpha">alpha</a>`+
			`<a href="/doi.org/10.1/beta">beta</a>`+
			`</body></html>`)
	})
	f.mux.HandleFunc("/doi.org/10.1/alpha", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>write to popular@fastmail.example</p></body></html>`)
	})
	f.mux.HandleFunc("/doi.org/10.1/beta", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>popular@fastmail.example or ada@mit.edu</p></body></html>`)
	})

	r := New(f.config(), f.fetcher(), nil, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())

	email, err := r.Resolve(context.Background(), "Ada Lovelace", "")
	require.NoError(t, err)
	require.Equal(t, "ada@mit.edu", email)
}

func TestResolverHeadlessPromotion(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	f.mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/pid/3/1">Ada Lovelace</a></body></html>`)
	})
	f.mux.HandleFunc("/pid/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/doi.org/10.9/shell">paper</a></body></html>`)
	})
	f.mux.HandleFunc("/doi.org/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><div id="js-shell">loading</div></body></html>`)
	})

	headless := &staticFetcher{body: `<html><body><p>ada@mit.edu</p></body></html>`}
	cfg := f.config()
	cfg.HeadlessEnabled = true

	r := New(cfg, f.fetcher(), headless, markerDetector{}, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())

	email, err := r.Resolve(context.Background(), "Ada Lovelace", "")
	require.NoError(t, err)
	require.Equal(t, "ada@mit.edu", email)

	requests := headless.all()
	require.Len(t, requests, 1)
	require.True(t, requests[0].UseHeadless)
	require.Contains(t, requests[0].URL, "/doi.org/10.9/shell")
}

func TestResolverSkipsBlockedDomains(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	cfg := f.config()
	cfg.BlockedDomains = []string{"127.0.0.1"}

	r := New(cfg, f.fetcher(), nil, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())

	email, err := r.Resolve(context.Background(), "Ada Lovelace", "")
	require.NoError(t, err)
	require.Empty(t, email)
	require.Zero(t, f.recorder.total())
}

func TestResolverTimeoutReturnsResolutionTimeout(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	r := New(f.config(), f.fetcher(), nil, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	email, err := r.Resolve(ctx, "Ada Lovelace", "")
	require.ErrorIs(t, err, extraction.ErrResolutionTimeout)
	require.Empty(t, email)
}

func TestResolverEmptyNameNoop(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil)

	email, err := r.Resolve(context.Background(), "   ", "")
	require.NoError(t, err)
	require.Empty(t, email)
}

func TestResolverEmitsLookupEvents(t *testing.T) {
	t.Parallel()

	f := newResolverFixture(t)
	f.mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/pid/12/1">Ada Lovelace</a></body></html>`)
	})
	f.mux.HandleFunc("/pid/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/doi.org/10.5/note">paper</a></body></html>`)
	})
	f.mux.HandleFunc("/doi.org/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>ada@mit.edu</p></body></html>`)
	})

	sink := &captureSink{}
	hub := progress.NewHub(progress.Config{MaxBatchWait: 5 * time.Millisecond}, sink)

	r := New(f.config(), f.fetcher(), nil, nil, nil, nil, nil, nil, nil, nil, hub, zap.NewNop())

	runID := uuid.New()
	ctx := extraction.WithRunInfo(context.Background(), extraction.RunInfo{
		RunID:    runID.String(),
		RepoPath: "openai/whisper",
	})

	email, err := r.Resolve(ctx, "Ada Lovelace", "")
	require.NoError(t, err)
	require.Equal(t, "ada@mit.edu", email)
	require.NoError(t, hub.Close(context.Background()))

	events := sink.all()
	require.Len(t, events, 2)

	require.Equal(t, progress.StageLookupStart, events[0].Stage)
	require.Equal(t, "dblp", events[0].Surface)
	require.Equal(t, "Ada Lovelace", events[0].Contributor)
	require.Equal(t, progress.UUIDToBytes(runID), events[0].RunID)

	require.Equal(t, progress.StageLookupDone, events[1].Stage)
	require.Equal(t, progress.OutcomeHit, events[1].Outcome)
	require.Equal(t, int64(1), events[1].Lookups)
	require.Greater(t, events[1].Bytes, int64(0))
}

// resolverFixture serves every search surface from one httptest server and
// records the request paths it sees.
type resolverFixture struct {
	mux      *http.ServeMux
	server   *httptest.Server
	recorder *pathRecorder
	baseURL  string
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	f := &resolverFixture{mux: http.NewServeMux(), recorder: &pathRecorder{}}
	f.server = httptest.NewServer(f.recorder.wrap(f.mux))
	t.Cleanup(f.server.Close)
	f.baseURL = f.server.URL
	return f
}

func (f *resolverFixture) config() Config {
	return Config{
		DBLPBaseURL:      f.baseURL,
		ArxivBaseURL:     f.baseURL,
		WebSearchBaseURL: f.baseURL,
	}
}

func (f *resolverFixture) fetcher() extraction.Fetcher {
	return &httpFetcher{client: f.server.Client()}
}

type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (p *pathRecorder) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.paths = append(p.paths, r.URL.Path)
		p.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (p *pathRecorder) index(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, seen := range p.paths {
		if seen == path {
			return i
		}
	}
	return -1
}

func (p *pathRecorder) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, seen := range p.paths {
		if seen == path {
			n++
		}
	}
	return n
}

func (p *pathRecorder) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

// httpFetcher is a plain net/http probe used in place of the production
// fetcher. Responses with 4xx or 5xx statuses surface as errors.
type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, request extraction.FetchRequest) (extraction.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL, nil)
	if err != nil {
		return extraction.FetchResponse{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return extraction.FetchResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return extraction.FetchResponse{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return extraction.FetchResponse{}, fmt.Errorf("status %d fetching %s", resp.StatusCode, request.URL)
	}
	return extraction.FetchResponse{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

type staticFetcher struct {
	mu       sync.Mutex
	body     string
	requests []extraction.FetchRequest
}

func (s *staticFetcher) Fetch(_ context.Context, request extraction.FetchRequest) (extraction.FetchResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, request)
	s.mu.Unlock()
	return extraction.FetchResponse{
		URL:        request.URL,
		StatusCode: http.StatusOK,
		Body:       []byte(s.body),
	}, nil
}

func (s *staticFetcher) all() []extraction.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extraction.FetchRequest(nil), s.requests...)
}

// markerDetector promotes pages whose body carries a js-shell marker.
type markerDetector struct{}

func (markerDetector) ShouldPromote(probe extraction.FetchResponse) bool {
	return bytes.Contains(probe.Body, []byte("js-shell"))
}

type memoryBlobStore struct {
	mu    sync.Mutex
	paths []string
}

func (s *memoryBlobStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return "mem://" + path, nil
}

type capturingEvidenceStore struct {
	mu      sync.Mutex
	records []extraction.EvidenceRecord
}

func (s *capturingEvidenceStore) StoreEvidence(_ context.Context, record extraction.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *capturingEvidenceStore) all() []extraction.EvidenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extraction.EvidenceRecord(nil), s.records...)
}

type staticHasher struct {
	digest string
}

func (h staticHasher) Hash(_ []byte) (string, error) {
	return h.digest, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type staticIDs struct {
	id string
}

func (s staticIDs) NewID() (string, error) {
	return s.id, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *captureSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	return nil
}

func (s *captureSink) all() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}
