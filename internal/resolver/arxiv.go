package resolver

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Subset of the Atom feed returned by the arXiv query API.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID    string      `xml:"id"`
	Links []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

func (e arxivEntry) pdfLink() string {
	for _, l := range e.Links {
		if l.Title == "pdf" && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

// searchArxiv queries the author feed and queues each paper's document
// link for the PDF tier. The feed itself never carries addresses.
func (r *Resolver) searchArxiv(ctx context.Context, ses *session) {
	query := url.Values{}
	query.Set("search_query", fmt.Sprintf("au:%q", ses.name))
	query.Set("start", "0")
	query.Set("max_results", strconv.Itoa(r.cfg.MaxSearchResults))
	feedURL := fmt.Sprintf("%s/api/query?%s",
		strings.TrimSuffix(r.cfg.ArxivBaseURL, "/"), query.Encode())

	resp, err := r.fetchPage(ctx, ses, surfaceArxiv, feedURL)
	if err != nil {
		r.logger.Debug("arxiv search failed", zap.String("contributor", ses.name), zap.Error(err))
		return
	}

	var feed arxivFeed
	if err := xml.Unmarshal(resp.Body, &feed); err != nil {
		r.logger.Debug("arxiv feed parse failed", zap.Error(err))
		return
	}
	for _, entry := range feed.Entries {
		if link := entry.pdfLink(); link != "" {
			ses.queuePDF(surfaceArxiv, link)
		}
	}
}
