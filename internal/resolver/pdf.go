package resolver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/extraction"
)

// pdfTarget is one queued document link, tagged with the surface that
// discovered it.
type pdfTarget struct {
	origin string
	url    string
}

// scanQueuedPDFs downloads queued papers and scans their leading pages.
// Academic surfaces queue before the web surface, so their papers are
// scanned first. Attempts are capped at MaxPapers.
func (r *Resolver) scanQueuedPDFs(ctx context.Context, ses *session) {
	queue := ses.pdfQueue
	if len(queue) > r.cfg.MaxPapers {
		queue = queue[:r.cfg.MaxPapers]
	}
	for _, target := range queue {
		if ctx.Err() != nil {
			return
		}
		r.scanPDF(ctx, ses, target)
	}
}

func (r *Resolver) scanPDF(ctx context.Context, ses *session, target pdfTarget) {
	resp, err := r.fetchPage(ctx, ses, surfacePDF, target.url)
	if err != nil {
		r.logger.Debug("pdf fetch skipped", zap.String("url", target.url), zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return
	}

	r.archiveEvidence(ctx, ses, target, resp)

	text, err := pdfText(resp.Body, r.cfg.PDFMaxPages)
	if err != nil {
		r.logger.Debug("pdf text extraction failed", zap.String("url", target.url), zap.Error(err))
		return
	}
	if added := ses.collect(text); added > 0 {
		r.logger.Debug("candidates found in document",
			zap.String("url", target.url),
			zap.Int("added", added))
	}
}

// pdfText extracts plain text from the first maxPages pages. The parser
// panics on some malformed files; that surfaces as an error here.
func pdfText(data []byte, maxPages int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// archiveEvidence stores the fetched document in the blob store and
// indexes it. Runs without run metadata skip archiving; failures are
// logged and the scan continues.
func (r *Resolver) archiveEvidence(
	ctx context.Context,
	ses *session,
	target pdfTarget,
	resp extraction.FetchResponse,
) {
	if r.blobs == nil || r.hasher == nil || ses.runID == "" {
		return
	}
	hash, err := r.hasher.Hash(resp.Body)
	if err != nil {
		r.logger.Warn("evidence hash failed", zap.String("url", target.url), zap.Error(err))
		return
	}
	blobPath := r.buildBlobPath(ses.runID, hash)
	uri, err := r.blobs.PutObject(ctx, blobPath, r.cfg.BlobContentType, bytes.NewReader(resp.Body))
	if err != nil {
		r.logger.Warn("evidence upload failed", zap.String("url", target.url), zap.Error(err))
		return
	}
	if r.evidence == nil {
		return
	}

	id := ""
	if r.ids != nil {
		if generated, err := r.ids.NewID(); err == nil {
			id = generated
		}
	}
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = target.url
	}
	record := extraction.EvidenceRecord{
		ID:          id,
		RunID:       ses.runID,
		Contributor: ses.name,
		Surface:     target.origin,
		URL:         finalURL,
		Hash:        hash,
		BlobURI:     uri,
		Headers:     resp.Headers,
		StatusCode:  resp.StatusCode,
		ContentType: r.cfg.BlobContentType,
		RetrievedAt: r.now(),
	}
	if err := r.evidence.StoreEvidence(ctx, record); err != nil {
		r.logger.Warn("evidence index failed", zap.String("url", target.url), zap.Error(err))
	}
}

func (r *Resolver) buildBlobPath(runID, hash string) string {
	prefix := strings.Trim(r.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.pdf", runID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.pdf", prefix, runID, hash)
}
