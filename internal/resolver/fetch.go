package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/extraction"
	"github.com/gitscout/gitscout/internal/telemetry"
)

// Skip reasons surfaced by fetchPage. Callers log them at debug level and
// move on.
var (
	errAlreadyVisited = errors.New("url already visited")
	errBlockedDomain  = errors.New("domain blocked")
)

// fetchPage runs the polite fetch pipeline for one URL: visit dedupe,
// domain blocklist, throttle, retrying probe fetch, optional headless
// promotion.
func (r *Resolver) fetchPage(ctx context.Context, ses *session, surface, rawURL string) (extraction.FetchResponse, error) {
	if r.fetcher == nil {
		return extraction.FetchResponse{}, errors.New("no fetcher configured")
	}
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return extraction.FetchResponse{}, err
	}
	if !ses.visited.markIfNew(normalized) {
		return extraction.FetchResponse{}, errAlreadyVisited
	}
	if r.blocked.isBlocked(hostOf(normalized)) {
		return extraction.FetchResponse{}, errBlockedDomain
	}
	if r.throttle != nil {
		if err := r.throttle.Wait(ctx, normalized); err != nil {
			return extraction.FetchResponse{}, fmt.Errorf("throttle: %w", err)
		}
	}

	tally := ses.tally(surface)
	resp, err := r.fetchWithRetry(ctx, ses, normalized)
	if err != nil {
		tally.failed++
		telemetry.ObserveFetch(normalized, "error", 0)
		return extraction.FetchResponse{}, err
	}
	tally.fetched++
	tally.bytes += int64(len(resp.Body))
	telemetry.ObserveFetch(normalized, strconv.Itoa(resp.StatusCode), len(resp.Body))

	if promoted, ok := r.maybePromote(ctx, ses, normalized, resp); ok {
		tally.bytes += int64(len(promoted.Body))
		resp = promoted
	}
	return resp, nil
}

func (r *Resolver) fetchWithRetry(ctx context.Context, ses *session, pageURL string) (extraction.FetchResponse, error) {
	request := extraction.FetchRequest{RunID: ses.runID, URL: pageURL}
	for attempt := 0; ; attempt++ {
		resp, err := r.fetcher.Fetch(ctx, request)
		if err == nil {
			return resp, nil
		}
		if !r.retry.shouldRetry(err, attempt) {
			return extraction.FetchResponse{}, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
		pause(ctx, r.retry.backoff(attempt))
	}
}

// maybePromote re-fetches through the headless renderer when the probe
// response looks like a JS shell. A failed promotion keeps the probe
// response.
func (r *Resolver) maybePromote(
	ctx context.Context,
	ses *session,
	pageURL string,
	resp extraction.FetchResponse,
) (extraction.FetchResponse, bool) {
	if !r.cfg.HeadlessEnabled || r.detector == nil || r.headless == nil {
		return resp, false
	}
	if !r.detector.ShouldPromote(resp) {
		return resp, false
	}
	headlessResp, err := r.headless.Fetch(ctx, extraction.FetchRequest{
		RunID:       ses.runID,
		URL:         pageURL,
		UseHeadless: true,
	})
	if err != nil {
		r.logger.Warn("headless promotion failed", zap.String("url", pageURL), zap.Error(err))
		return resp, false
	}
	headlessResp.UsedHeadless = true
	return headlessResp, true
}

// fetchDocument fetches a page and parses it, returning the document and
// the base URL for resolving relative links.
func (r *Resolver) fetchDocument(ctx context.Context, ses *session, surface, rawURL string) (*goquery.Document, *url.URL, error) {
	resp, err := r.fetchPage(ctx, ses, surface, rawURL)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(resp.URL)
	if err != nil || base.Host == "" {
		base, err = url.Parse(rawURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse base url: %w", err)
		}
	}
	return doc, base, nil
}

// scanPage fetches one candidate page and collects addresses from its text.
func (r *Resolver) scanPage(ctx context.Context, ses *session, surface, pageURL string) {
	resp, err := r.fetchPage(ctx, ses, surface, pageURL)
	if err != nil {
		r.logger.Debug("page scan skipped", zap.String("url", pageURL), zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK {
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		r.logger.Debug("page parse failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	if added := ses.collect(doc.Text()); added > 0 {
		r.logger.Debug("candidates found", zap.String("url", pageURL), zap.Int("added", added))
	}
}

func pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
