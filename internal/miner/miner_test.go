package miner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gitscout/gitscout/internal/extraction"
)

// The file protocol defaults to shelling out to a git binary. Tests swap in
// the pure-Go server transport so fixtures clone without external tooling.
var fileProtocolOnce sync.Once

func installFileProtocol(t *testing.T) {
	t.Helper()
	fileProtocolOnce.Do(func() {
		client.InstallProtocol("file", server.NewClient(server.NewFilesystemLoader(osfs.New(""))))
	})
}

func commitFile(t *testing.T, wt *git.Worktree, dir, name, content string, sig object.Signature) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	_, err := wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("add "+name, &git.CommitOptions{Author: &sig})
	require.NoError(t, err)
}

// buildFixtureRepo creates a repository with four commits from three authors.
// Ada commits twice under different emails to exercise name-keyed grouping.
func buildFixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commitFile(t, wt, dir, "notes.txt", "one", object.Signature{
		Name:  "Ada Lovelace",
		Email: "ada@example.org",
		When:  time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC),
	})
	commitFile(t, wt, dir, "log.txt", "two", object.Signature{
		Name:  "Grace Hopper",
		Email: "grace@navy.example",
		When:  time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC),
	})
	commitFile(t, wt, dir, "notes2.txt", "three", object.Signature{
		Name:  "Ada Lovelace",
		Email: "ada@engine.example",
		When:  time.Date(2024, 3, 5, 8, 15, 0, 0, time.UTC),
	})
	commitFile(t, wt, dir, "cards.txt", "four", object.Signature{
		Name:  "Charles Babbage",
		Email: "charles@engine.example",
		When:  time.Date(2024, 4, 1, 16, 45, 0, 0, time.UTC),
	})

	return dir
}

func TestMinerMineAggregatesByName(t *testing.T) {
	t.Parallel()
	installFileProtocol(t)
	fixture := buildFixtureRepo(t)
	work := t.TempDir()

	m := New(Config{CloneTimeout: time.Minute, WorkDir: work}, zap.NewNop())
	records, err := m.Mine(context.Background(), "file://"+filepath.Join(fixture, ".git"))
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Equal(t, "Ada Lovelace", records[0].Name)
	require.Equal(t, 2, records[0].CommitCount)
	require.Equal(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), records[0].FirstCommit)
	require.Equal(t, time.Date(2024, 3, 5, 8, 15, 0, 0, time.UTC), records[0].LastCommit)

	// Ties on commit count order by name.
	require.Equal(t, "Charles Babbage", records[1].Name)
	require.Equal(t, 1, records[1].CommitCount)
	require.Equal(t, "Grace Hopper", records[2].Name)
	require.Equal(t, 1, records[2].CommitCount)
	require.Equal(t, records[2].FirstCommit, records[2].LastCommit)

	// The clone directory is cleaned up before Mine returns.
	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMinerMineEmptyRepository(t *testing.T) {
	t.Parallel()
	installFileProtocol(t)
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	m := New(Config{}, zap.NewNop())
	_, err = m.Mine(context.Background(), "file://"+filepath.Join(dir, ".git"))
	require.ErrorIs(t, err, extraction.ErrEmptyHistory)
}

func TestMinerMineMissingRepository(t *testing.T) {
	t.Parallel()
	installFileProtocol(t)
	missing := filepath.Join(t.TempDir(), "nope", ".git")

	m := New(Config{}, zap.NewNop())
	_, err := m.Mine(context.Background(), "file://"+missing)
	require.ErrorIs(t, err, extraction.ErrRepositoryNotFound)
	require.ErrorIs(t, err, extraction.ErrRepositoryUnavailable)
}

func TestMinerCloneURL(t *testing.T) {
	t.Parallel()
	m := New(Config{BaseURL: "https://huggingface.co/"}, nil)

	url, err := m.cloneURL("openai/whisper")
	require.NoError(t, err)
	require.Equal(t, "https://huggingface.co/openai/whisper", url)

	url, err = m.cloneURL("https://github.com/golang/go")
	require.NoError(t, err)
	require.Equal(t, "https://github.com/golang/go", url)

	url, err = m.cloneURL("git@github.com:golang/go.git")
	require.NoError(t, err)
	require.Equal(t, "git@github.com:golang/go.git", url)

	_, err = m.cloneURL("   ")
	require.ErrorIs(t, err, extraction.ErrEmptyRepoPath)
}

func TestMinerClassifyCloneError(t *testing.T) {
	t.Parallel()
	m := New(Config{}, nil)

	err := m.classifyCloneError("a/b", transport.ErrEmptyRemoteRepository)
	require.ErrorIs(t, err, extraction.ErrEmptyHistory)

	err = m.classifyCloneError("a/b", transport.ErrRepositoryNotFound)
	require.ErrorIs(t, err, extraction.ErrRepositoryNotFound)

	err = m.classifyCloneError("a/b", transport.ErrAuthorizationFailed)
	require.ErrorIs(t, err, extraction.ErrRepositoryNotFound)

	err = m.classifyCloneError("a/b", errors.New("dial tcp: connection refused"))
	require.ErrorIs(t, err, extraction.ErrRepositoryUnavailable)
	require.NotErrorIs(t, err, extraction.ErrRepositoryNotFound)
	require.ErrorContains(t, err, "connection refused")
}
