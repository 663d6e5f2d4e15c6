package extraction

import (
	"regexp"
	"strings"
)

// emailPattern is the candidate extraction regex applied to page and PDF
// text. Deliberately loose; IsUsableEmail does the filtering.
var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// placeholderPrefixes are local parts that identify role or bot addresses
// rather than a person.
var placeholderPrefixes = []string{
	"noreply@", "no-reply@", "donotreply@", "do-not-reply@",
	"admin@", "support@", "info@", "contact@", "team@", "hello@",
	"research@", "dev@", "development@",
	"github@", "git@", "huggingface@", "hf@",
}

// throwawayDomains show up in documentation snippets and test fixtures.
var throwawayDomains = map[string]struct{}{
	"example.com":     {},
	"test.com":        {},
	"domain.com":      {},
	"email.com":       {},
	"sample.com":      {},
	"placeholder.com": {},
}

// academicDomainPatterns flag institutional mail hosts. Applied to the
// domain part only, lowercased.
var academicDomainPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.edu$`),
	regexp.MustCompile(`\.ac\.[a-z]{2}$`),
	regexp.MustCompile(`\.edu\.[a-z]{2}$`),
	regexp.MustCompile(`university`),
	regexp.MustCompile(`\.uni-[a-z]+\.[a-z]{2}$`),
	regexp.MustCompile(`\.college\.`),
	regexp.MustCompile(`\.institute\.`),
}

// ExtractEmails pulls unique email candidates out of free text, in order
// of first appearance.
func ExtractEmails(text string) []string {
	matches := emailPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// IsPlaceholderEmail reports whether the address is a role or bot address.
func IsPlaceholderEmail(email string) bool {
	lower := strings.ToLower(strings.TrimSpace(email))
	for _, prefix := range placeholderPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// IsUsableEmail reports whether a candidate is worth persisting: it must
// be a complete address, not a placeholder, and not on a throwaway domain.
func IsUsableEmail(email string) bool {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" || !emailPattern.MatchString(trimmed) {
		return false
	}
	if IsPlaceholderEmail(trimmed) {
		return false
	}
	_, throwaway := throwawayDomains[strings.ToLower(emailDomain(trimmed))]
	return !throwaway
}

// IsAcademicEmail reports whether the address belongs to an academic or
// research institution. Academic candidates outrank the rest.
func IsAcademicEmail(email string) bool {
	domain := strings.ToLower(emailDomain(email))
	if domain == "" {
		return false
	}
	for _, pattern := range academicDomainPatterns {
		if pattern.MatchString(domain) {
			return true
		}
	}
	return false
}

func emailDomain(email string) string {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return domain
}
