package resolver

import (
	"strings"

	"github.com/gitscout/gitscout/internal/extraction"
)

// candidateSet accumulates usable email candidates across scanned sources.
// Candidates are keyed case-insensitively; the spelling seen first is the
// one returned.
type candidateSet struct {
	counts    map[string]int
	order     map[string]int
	canonical map[string]string
	next      int
}

func newCandidateSet() *candidateSet {
	return &candidateSet{
		counts:    make(map[string]int),
		order:     make(map[string]int),
		canonical: make(map[string]string),
	}
}

// add records one sighting of a candidate and reports whether it is new.
// Unusable addresses (placeholders, throwaway domains) are dropped.
func (c *candidateSet) add(email string) bool {
	trimmed := strings.TrimSpace(email)
	if !extraction.IsUsableEmail(trimmed) {
		return false
	}
	key := strings.ToLower(trimmed)
	c.counts[key]++
	if _, seen := c.order[key]; seen {
		return false
	}
	c.order[key] = c.next
	c.next++
	c.canonical[key] = trimmed
	return true
}

func (c *candidateSet) size() int {
	return len(c.order)
}

// best returns the ranked winner, or "" when the set is empty. Academic
// domains outrank the rest, then the number of sources that produced the
// address, then first appearance.
func (c *candidateSet) best() string {
	bestKey := ""
	for key := range c.counts {
		if bestKey == "" || c.outranks(key, bestKey) {
			bestKey = key
		}
	}
	if bestKey == "" {
		return ""
	}
	return c.canonical[bestKey]
}

func (c *candidateSet) outranks(a, b string) bool {
	aAcademic := extraction.IsAcademicEmail(a)
	bAcademic := extraction.IsAcademicEmail(b)
	if aAcademic != bAcademic {
		return aAcademic
	}
	if c.counts[a] != c.counts[b] {
		return c.counts[a] > c.counts[b]
	}
	return c.order[a] < c.order[b]
}
