// Package simple includes tests for the permissive throttle implementation.
package simple

import (
	"context"
	"testing"
)

// TestPolicyWait ensures the pass-through throttle never blocks live contexts.
func TestPolicyWait(t *testing.T) {
	t.Parallel()

	p := New()
	if err := p.Wait(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("expected Wait to pass, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx, "https://example.com"); err == nil {
		t.Fatal("expected Wait to fail for canceled context")
	}
}
