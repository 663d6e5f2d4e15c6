// Package miner clones repositories and aggregates contributors from their
// commit history.
package miner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/extraction"
)

// Config controls clone behavior.
type Config struct {
	// BaseURL prefixes owner/name paths to form a clone URL. Full git URLs
	// submitted by clients bypass it.
	BaseURL string
	// CloneTimeout bounds a single clone. Zero means no deadline beyond
	// the caller's context.
	CloneTimeout time.Duration
	// WorkDir hosts per-run clone directories. Empty means the system
	// temp directory.
	WorkDir string
}

// Miner implements extraction.Miner with go-git. Clones are bare and
// single-branch, and the clone directory is removed before Mine returns.
type Miner struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Miner.
func New(cfg Config, logger *zap.Logger) *Miner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Miner{cfg: cfg, logger: logger}
}

// Mine clones the repository and returns its contributors ordered by commit
// count, ties broken by name. Commits are grouped by author name, so the
// same person committing under several emails still yields one record.
func (m *Miner) Mine(ctx context.Context, repoPath string) ([]extraction.ContributorRecord, error) {
	remoteURL, err := m.cloneURL(repoPath)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(m.cfg.WorkDir, "gitscout-clone-")
	if err != nil {
		return nil, fmt.Errorf("create clone directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			m.logger.Warn("failed to remove clone directory",
				zap.String("dir", dir),
				zap.Error(rmErr))
		}
	}()

	if m.cfg.CloneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CloneTimeout)
		defer cancel()
	}

	m.logger.Info("cloning repository",
		zap.String("repo_path", repoPath),
		zap.String("url", remoteURL))

	repo, err := git.PlainCloneContext(ctx, dir, true, &git.CloneOptions{
		URL:          remoteURL,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err != nil {
		return nil, m.classifyCloneError(repoPath, err)
	}

	records, err := aggregateHistory(repo)
	if err != nil {
		return nil, err
	}

	m.logger.Info("mined contributors",
		zap.String("repo_path", repoPath),
		zap.Int("contributors", len(records)))
	return records, nil
}

// cloneURL resolves the submitted path to a clone URL. Full git URLs pass
// through untouched; owner/name paths are joined to the configured base.
func (m *Miner) cloneURL(repoPath string) (string, error) {
	trimmed := strings.TrimSpace(repoPath)
	if trimmed == "" {
		return "", extraction.ErrEmptyRepoPath
	}
	if strings.Contains(trimmed, "://") || strings.HasPrefix(trimmed, "git@") {
		return trimmed, nil
	}
	return strings.TrimSuffix(m.cfg.BaseURL, "/") + "/" + trimmed, nil
}

// classifyCloneError folds transport failures into the error taxonomy the
// runner reports to clients. A remote that answers but has no refs counts
// as empty history, not as an unavailable repository.
func (m *Miner) classifyCloneError(repoPath string, err error) error {
	switch {
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return fmt.Errorf("clone %s: %w", repoPath, extraction.ErrEmptyHistory)
	case errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("clone %s: %w", repoPath, extraction.ErrRepositoryNotFound)
	default:
		m.logger.Warn("clone failed",
			zap.String("repo_path", repoPath),
			zap.Error(err))
		return fmt.Errorf("clone %s: %w: %w", repoPath, extraction.ErrRepositoryUnavailable, err)
	}
}

// aggregateHistory walks the log from HEAD and folds commits into one
// record per author name. Timestamps are normalized to UTC.
func aggregateHistory(repo *git.Repository) ([]extraction.ContributorRecord, error) {
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, extraction.ErrEmptyHistory
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}
	defer iter.Close()

	byName := make(map[string]*extraction.ContributorRecord)
	err = iter.ForEach(func(commit *object.Commit) error {
		name := strings.TrimSpace(commit.Author.Name)
		if name == "" {
			return nil
		}
		when := commit.Author.When.UTC()
		rec, ok := byName[name]
		if !ok {
			byName[name] = &extraction.ContributorRecord{
				Name:        name,
				CommitCount: 1,
				FirstCommit: when,
				LastCommit:  when,
			}
			return nil
		}
		rec.CommitCount++
		if when.Before(rec.FirstCommit) {
			rec.FirstCommit = when
		}
		if when.After(rec.LastCommit) {
			rec.LastCommit = when
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}
	if len(byName) == 0 {
		return nil, extraction.ErrEmptyHistory
	}

	records := make([]extraction.ContributorRecord, 0, len(byName))
	for _, rec := range byName {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CommitCount != records[j].CommitCount {
			return records[i].CommitCount > records[j].CommitCount
		}
		return records[i].Name < records[j].Name
	})
	return records, nil
}
