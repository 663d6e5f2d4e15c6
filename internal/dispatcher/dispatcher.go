// Package dispatcher manages runner fan-out over the extraction queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/gitscout/gitscout/internal/extraction"
	"github.com/gitscout/gitscout/internal/runner"
)

// Dispatcher fans out queued extraction runs to a pool of runners.
type Dispatcher struct {
	queue   extraction.Queue
	runners []*runner.Runner
}

// New creates a Dispatcher.
func New(queue extraction.Queue, runners []*runner.Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		runners: runners,
	}
}

// Run starts all runners and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(rn *runner.Runner) {
			defer wg.Done()
			rn.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req extraction.RunRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
