package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// searchWeb queries an HTML search results page for the contributor and
// scans the top result pages. Result snippets on the search page itself
// count too.
func (r *Resolver) searchWeb(ctx context.Context, ses *session, affiliation string) {
	terms := ses.name + " email"
	if strings.TrimSpace(affiliation) != "" {
		terms = ses.name + " " + strings.TrimSpace(affiliation) + " email"
	}
	searchURL := fmt.Sprintf("%s/html/?q=%s",
		strings.TrimSuffix(r.cfg.WebSearchBaseURL, "/"), url.QueryEscape(terms))

	doc, base, err := r.fetchDocument(ctx, ses, surfaceWeb, searchURL)
	if err != nil {
		r.logger.Debug("web search failed", zap.String("contributor", ses.name), zap.Error(err))
		return
	}

	if added := ses.collect(doc.Text()); added > 0 {
		r.logger.Debug("candidates found in search snippets", zap.Int("added", added))
	}

	for _, link := range resultLinks(doc, base, r.cfg.MaxSearchResults) {
		if isPDFLink(link) {
			ses.queuePDF(surfaceWeb, link)
			continue
		}
		r.scanPage(ctx, ses, surfaceWeb, link)
	}
}

// resultLinks pulls up to limit outbound result URLs from a results page.
func resultLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a.result__a[href], a.result__url[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		target := resolveResultHref(base, href)
		if target == "" {
			return true
		}
		if _, dup := seen[target]; dup {
			return true
		}
		seen[target] = struct{}{}
		links = append(links, target)
		return len(links) < limit
	})
	return links
}

// resolveResultHref unwraps engine redirect links (the target rides in a
// uddg query parameter) and drops links pointing back at the engine.
func resolveResultHref(base *url.URL, href string) string {
	resolved := resolveRef(base, href)
	if resolved == "" {
		return ""
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		resolved = target
		u, err = url.Parse(target)
		if err != nil {
			return ""
		}
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || strings.Contains(host, "duckduckgo") {
		return ""
	}
	return resolved
}
