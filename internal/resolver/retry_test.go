package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNetError struct {
	timeout bool
}

func (e fakeNetError) Error() string   { return "dial failed" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	policy := newRetryPolicy(2, time.Millisecond, 10*time.Millisecond)

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 0, want: false},
		{name: "generic error retries", err: errors.New("boom"), attempt: 0, want: true},
		{name: "attempts exhausted", err: errors.New("boom"), attempt: 2, want: false},
		{name: "context canceled", err: context.Canceled, attempt: 0, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, attempt: 0, want: false},
		{name: "net timeout retries", err: fakeNetError{timeout: true}, attempt: 0, want: true},
		{name: "net hard failure", err: fakeNetError{timeout: false}, attempt: 0, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, policy.shouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	ceiling := 400 * time.Millisecond
	policy := newRetryPolicy(3, base, ceiling)

	first := policy.backoff(0)
	require.GreaterOrEqual(t, first, base/2)
	require.LessOrEqual(t, first, base)

	deep := policy.backoff(10)
	require.GreaterOrEqual(t, deep, ceiling/2)
	require.LessOrEqual(t, deep, ceiling)
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := newRetryPolicy(-1, 0, 0)
	require.Zero(t, policy.maxRetries)
	require.Equal(t, 250*time.Millisecond, policy.baseDelay)
	require.Equal(t, 5*time.Second, policy.maxDelay)
}
