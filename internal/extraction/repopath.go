package extraction

import (
	"errors"
	"regexp"
	"strings"

	giturls "github.com/whilp/git-urls"
)

// repoPathPattern matches the owner/name form accepted on submit.
var repoPathPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Validation failures returned to API clients verbatim.
var (
	ErrEmptyRepoPath   = errors.New("Repository path cannot be empty")
	ErrBadRepoPathForm = errors.New("Invalid repository path format. Expected format: owner/repo")
)

// ValidateRepoPath checks a submitted repository path. Both the short
// owner/name form and full git URLs are accepted.
func ValidateRepoPath(repoPath string) error {
	trimmed := strings.TrimSpace(repoPath)
	if trimmed == "" {
		return ErrEmptyRepoPath
	}
	if IsGitURL(trimmed) {
		return nil
	}
	if !repoPathPattern.MatchString(trimmed) {
		return ErrBadRepoPathForm
	}
	return nil
}

// IsGitURL reports whether the input is a full git URL rather than an
// owner/name path.
func IsGitURL(s string) bool {
	if !strings.Contains(s, "://") && !strings.HasPrefix(s, "git@") {
		return false
	}
	u, err := giturls.Parse(s)
	return err == nil && u.Host != ""
}

// Owner returns the owner segment of a repository path. It doubles as the
// contributor affiliation hint fed to the resolver. For full git URLs the
// first path segment is the owner.
func Owner(repoPath string) string {
	path := strings.TrimSpace(repoPath)
	if IsGitURL(path) {
		u, err := giturls.Parse(path)
		if err != nil {
			return ""
		}
		path = strings.TrimPrefix(u.Path, "/")
	}
	owner, _, found := strings.Cut(path, "/")
	if !found {
		return ""
	}
	return owner
}
