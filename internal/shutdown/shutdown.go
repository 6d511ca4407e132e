// Package shutdown composes OS signals and a programmatic stop into
// one broadcast context, the "first-completes selector" that every
// blocking await in the ingestor, processor, and deliverer is
// composed with (spec §5). Grounded on the teacher's use of
// context.Context for cancellation throughout op-node/rollup/driver.
package shutdown

import (
	"context"
	"os/signal"
	"syscall"
)

// Context returns a context that is canceled on SIGINT, SIGTERM, or
// when the returned stop function is called, whichever happens
// first. Callers defer stop() to release the signal handler.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	ctx, stop = signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	return ctx, stop
}

// Drain blocks until ctx is done, then waits for done to be closed or
// deadline to elapse, whichever comes first, bounding how long
// in-flight work may take to finish after shutdown is signaled. No
// supervisor in this module calls it; the deliverer's Pool.Run
// applies its own drain deadline.
func Drain(ctx context.Context, done <-chan struct{}, deadline <-chan struct{}) {
	<-ctx.Done()
	select {
	case <-done:
	case <-deadline:
	}
}
