package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// searchDBLP looks the contributor up on the bibliography site, walks to
// the first matching author page, and scans its electronic-edition links.
// HTML paper pages are scanned inline; document links queue for the PDF
// tier.
func (r *Resolver) searchDBLP(ctx context.Context, ses *session) {
	searchURL := fmt.Sprintf("%s/search?q=%s",
		strings.TrimSuffix(r.cfg.DBLPBaseURL, "/"), url.QueryEscape(ses.name))

	doc, base, err := r.fetchDocument(ctx, ses, surfaceDBLP, searchURL)
	if err != nil {
		r.logger.Debug("dblp search failed", zap.String("contributor", ses.name), zap.Error(err))
		return
	}

	authorURL := firstAuthorLink(doc, base)
	if authorURL == "" {
		return
	}

	authorDoc, authorBase, err := r.fetchDocument(ctx, ses, surfaceDBLP, authorURL)
	if err != nil {
		r.logger.Debug("dblp author page failed", zap.String("url", authorURL), zap.Error(err))
		return
	}

	for _, link := range paperLinks(authorDoc, authorBase, r.cfg.MaxPapers) {
		if isPDFLink(link) {
			ses.queuePDF(surfaceDBLP, link)
			continue
		}
		r.scanPage(ctx, ses, surfaceDBLP, link)
	}
}

// firstAuthorLink returns the first author profile link on a search page.
// Author pages live under /pid/ paths.
func firstAuthorLink(doc *goquery.Document, base *url.URL) string {
	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		resolved := resolveRef(base, href)
		if resolved == "" {
			return true
		}
		u, err := url.Parse(resolved)
		if err != nil || !strings.Contains(u.Path, "/pid/") {
			return true
		}
		found = resolved
		return false
	})
	return found
}

// paperLinks collects up to limit electronic-edition links from an author
// page: direct documents, DOI resolvers, and arXiv abstracts.
func paperLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		lower := strings.ToLower(href)
		if !strings.Contains(lower, ".pdf") &&
			!strings.Contains(lower, "doi.org") &&
			!strings.Contains(lower, "arxiv.org") {
			return true
		}
		resolved := resolveRef(base, href)
		if resolved == "" {
			return true
		}
		if _, dup := seen[resolved]; dup {
			return true
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
		return len(links) < limit
	})
	return links
}

func isPDFLink(link string) bool {
	return strings.Contains(strings.ToLower(link), ".pdf")
}
