// Package simple contains a permissive throttle implementation.
package simple

import (
	"context"
	"fmt"
)

// Policy is a pass-through throttle used when rate limiting is disabled.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns immediately unless the context is already done.
func (Policy) Wait(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}
