package resolver

import "sync"

// visitTracker dedupes page visits within one resolution session so the
// same URL discovered through several surfaces is fetched once.
type visitTracker struct {
	seen sync.Map
}

func newVisitTracker() *visitTracker {
	return &visitTracker{}
}

// markIfNew records the URL and reports whether it was unseen.
func (t *visitTracker) markIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}
