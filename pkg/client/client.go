// Package client provides a typed HTTP client for the extraction service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gitscout/gitscout/pkg/poll"
)

// ErrNotFound reports that no extraction exists for the repository.
var ErrNotFound = errors.New("no extraction found for repository")

const defaultHTTPTimeout = 30 * time.Second

// Terminal job statuses as reported by the service.
const (
	StatusStarted    = "started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Contributor mirrors one contributor row in a status response.
type Contributor struct {
	Name            string     `json:"name"`
	Email           *string    `json:"email,omitempty"`
	CommitCount     int        `json:"commit_count"`
	FirstCommitDate *time.Time `json:"first_commit_date,omitempty"`
	LastCommitDate  *time.Time `json:"last_commit_date,omitempty"`
}

// JobState mirrors the job state body returned by the extract and status
// endpoints.
type JobState struct {
	RepoPath     string        `json:"repo_path"`
	Status       string        `json:"status"`
	Message      string        `json:"message,omitempty"`
	Contributors []Contributor `json:"contributors,omitempty"`
}

// Terminal reports whether the job has finished, successfully or not.
func (s JobState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithAPIKey attaches the key to every request via the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// Client talks to one extraction service instance.
type Client struct {
	baseURL string
	httpc   *http.Client
	apiKey  string
}

// New builds a Client for the service at baseURL, for example
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Extract submits the repository for extraction. A fresh submission and a
// join onto an already running job both succeed; the returned state tells
// them apart through its status and message.
func (c *Client) Extract(ctx context.Context, repoPath string) (JobState, error) {
	body, err := json.Marshal(map[string]string{"repo_path": repoPath})
	if err != nil {
		return JobState{}, fmt.Errorf("marshal extract request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return JobState{}, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var state JobState
	if err := c.do(req, &state); err != nil {
		return JobState{}, fmt.Errorf("extract %s: %w", repoPath, err)
	}
	return state, nil
}

// Status fetches the job state for the repository. ErrNotFound is returned
// when the repository was never submitted.
func (c *Client) Status(ctx context.Context, repoPath string) (JobState, error) {
	endpoint := c.baseURL + "/status/" + url.PathEscape(repoPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return JobState{}, fmt.Errorf("build status request: %w", err)
	}

	var state JobState
	if err := c.do(req, &state); err != nil {
		if errors.Is(err, ErrNotFound) {
			return JobState{}, fmt.Errorf("status %s: %w", repoPath, ErrNotFound)
		}
		return JobState{}, fmt.Errorf("status %s: %w", repoPath, err)
	}
	return state, nil
}

// WaitForCompletion polls the status endpoint every interval until the job
// reaches a terminal state or the context is canceled. Transient transport
// errors keep the poll alive; ErrNotFound aborts it.
func (c *Client) WaitForCompletion(ctx context.Context, repoPath string, interval time.Duration) (JobState, error) {
	var (
		last    JobState
		lastErr error
	)
	p := poll.Start(ctx, interval, func(ctx context.Context) bool {
		state, err := c.Status(ctx, repoPath)
		if err != nil {
			lastErr = err
			return !errors.Is(err, ErrNotFound)
		}
		last, lastErr = state, nil
		return !state.Terminal()
	})
	<-p.Done()

	if lastErr == nil && last.Terminal() {
		return last, nil
	}
	if err := ctx.Err(); err != nil {
		return last, err
	}
	return last, lastErr
}

// apiError is the error envelope the service wraps failures in.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(req *http.Request, out *JobState) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
