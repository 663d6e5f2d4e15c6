// Package poll provides a repeating timer that drives a callback at a fixed
// cadence on its own goroutine.
package poll

import (
	"context"
	"time"
)

const defaultInterval = time.Second

// Func is invoked on every tick. Returning false stops the poller.
type Func func(ctx context.Context) bool

// Poller owns the goroutine that ticks the callback. Callbacks never overlap:
// the next tick is armed only after the previous invocation returns.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches a poller that invokes fn until fn returns false, the parent
// context is canceled, or Stop is called. The first invocation happens
// immediately; later ones fire every interval, measured from the end of the
// previous call. A non-positive interval falls back to one second.
func Start(ctx context.Context, interval time.Duration, fn Func) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.loop(ctx, interval, fn)
	return p
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, fn Func) {
	defer close(p.done)
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		if !fn(ctx) {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Stop cancels the poller and blocks until the loop goroutine has exited.
// After Stop returns no callback is running and none will start. Stop is
// safe to call more than once and after the poller stopped itself.
func (p *Poller) Stop() {
	p.cancel()
	<-p.done
}

// Done is closed once the loop goroutine exits, whether through Stop, parent
// cancellation, or the callback returning false.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}
