package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gitscout/gitscout/internal/extraction"
)

// StatusStore provides an in-memory implementation for development/testing.
// One mutex covers the claim-reset-join dance so concurrent submitters for
// the same path serialize exactly like the SQL backend.
type StatusStore struct {
	mu           sync.RWMutex
	jobs         map[string]extraction.Job
	contributors map[string][]extraction.Contributor
}

// NewStatusStore constructs a StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		jobs:         make(map[string]extraction.Job),
		contributors: make(map[string][]extraction.Contributor),
	}
}

// StartJob claims a run for the path. A missing row is created and a
// terminal row is reset; both count as a fresh claim. A non-terminal row
// is returned as-is so the caller joins the running extraction.
func (s *StatusStore) StartJob(_ context.Context, repoPath string, message string) (extraction.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job, exists := s.jobs[repoPath]
	if exists && !job.Status.Terminal() {
		return job, false, nil
	}

	if !exists {
		job = extraction.Job{RepoPath: repoPath, Created: now}
	}
	job.Status = extraction.JobStatusStarted
	job.Message = message
	job.Updated = now
	s.jobs[repoPath] = job
	// A fresh run starts from a clean contributor slate.
	delete(s.contributors, repoPath)
	return job, true, nil
}

// UpsertJob creates or updates the job row for the path.
func (s *StatusStore) UpsertJob(_ context.Context, repoPath string, status extraction.JobStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job, ok := s.jobs[repoPath]
	if !ok {
		job = extraction.Job{RepoPath: repoPath, Created: now}
	}
	job.Status = status
	job.Message = message
	job.Updated = now
	s.jobs[repoPath] = job
	return nil
}

// GetJob fetches a job by repository path.
func (s *StatusStore) GetJob(_ context.Context, repoPath string) (extraction.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[repoPath]
	if !ok {
		return extraction.Job{}, extraction.ErrNotFound
	}
	return job, nil
}

// UpsertContributors inserts mined records for the path, emails unset.
// Re-mining the same name keeps one row and refreshes its stats.
func (s *StatusStore) UpsertContributors(_ context.Context, repoPath string, records []extraction.ContributorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[repoPath]; !ok {
		return extraction.ErrNotFound
	}

	existing := s.contributors[repoPath]
	byName := make(map[string]int, len(existing))
	for i, c := range existing {
		byName[c.Name] = i
	}

	for _, rec := range records {
		first := rec.FirstCommit
		last := rec.LastCommit
		row := extraction.Contributor{
			Name:        rec.Name,
			CommitCount: rec.CommitCount,
			FirstCommit: &first,
			LastCommit:  &last,
		}
		if i, ok := byName[rec.Name]; ok {
			row.Email = existing[i].Email
			existing[i] = row
			continue
		}
		byName[rec.Name] = len(existing)
		existing = append(existing, row)
	}
	s.contributors[repoPath] = existing
	return nil
}

// UpdateContributorEmail sets the email for one contributor row.
func (s *StatusStore) UpdateContributorEmail(_ context.Context, repoPath string, name string, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.contributors[repoPath]
	if !ok {
		return extraction.ErrNotFound
	}
	for i := range rows {
		if rows[i].Name == name {
			value := email
			rows[i].Email = &value
			return nil
		}
	}
	return extraction.ErrNotFound
}

// ListContributors returns contributor rows ordered by commit count
// (descending), then name.
func (s *StatusStore) ListContributors(_ context.Context, repoPath string) ([]extraction.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.contributors[repoPath]
	out := make([]extraction.Contributor, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CommitCount != out[j].CommitCount {
			return out[i].CommitCount > out[j].CommitCount
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
