package extraction

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems. Stores and the gateway match
// on these with errors.Is.
var (
	// ErrNotFound is returned when no job exists for a repository path.
	ErrNotFound = errors.New("extraction not found")

	// ErrRepositoryUnavailable is returned by the miner when the
	// repository cannot be cloned (missing, private, unreachable).
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrRepositoryNotFound is the ErrRepositoryUnavailable case where
	// the remote reports the repository does not exist or denies access.
	// errors.Is(err, ErrRepositoryUnavailable) holds for it too.
	ErrRepositoryNotFound = fmt.Errorf("%w: repository not found", ErrRepositoryUnavailable)

	// ErrEmptyHistory is returned by the miner when the clone succeeds
	// but the repository has no commits to walk.
	ErrEmptyHistory = errors.New("repository has no commit history")

	// ErrResolutionTimeout is returned by the resolver when a
	// contributor's time budget is exhausted before the surfaces finish.
	ErrResolutionTimeout = errors.New("email resolution timed out")
)
