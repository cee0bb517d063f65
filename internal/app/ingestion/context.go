package ingestion

import "context"

// DeferredFunc is work registered during the primary phase that must
// observe committed primary data but must not run inside the primary
// transaction.
type DeferredFunc func(ctx context.Context) error

// IngestionContext is the short-lived, per-slice queue of deferred
// callbacks. It is mutated only by tasks within one slice and never shared
// across slices or goroutines.
type IngestionContext struct {
	deferred []DeferredFunc
}

// NewIngestionContext creates an empty context for one slice.
func NewIngestionContext() *IngestionContext {
	return &IngestionContext{}
}

// RunAfterCommit queues fn to run after the primary transaction commits and
// before the secondary transaction starts.
func (ic *IngestionContext) RunAfterCommit(fn DeferredFunc) {
	ic.deferred = append(ic.deferred, fn)
}

// Pending returns the number of queued callbacks.
func (ic *IngestionContext) Pending() int {
	return len(ic.deferred)
}

// Drain executes the queued callbacks in registration order and empties the
// queue. The first error stops execution; remaining callbacks are dropped
// with the queue.
func (ic *IngestionContext) Drain(ctx context.Context) error {
	queued := ic.deferred
	ic.deferred = nil
	for _, fn := range queued {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}
