// ABOUTME: Bulkhead: bounds concurrent executions with a channel semaphore.
// ABOUTME: Calls beyond the limit are rejected immediately rather than queued.
package engine

import "context"

// Bulkhead caps the number of operations running concurrently. When every
// permit is taken, additional calls fail fast with ErrBulkheadFull instead of
// queuing, keeping overload visible.
type Bulkhead struct {
	permits chan struct{}
}

// NewBulkhead creates a bulkhead allowing at most limit concurrent
// executions. A non-positive limit defaults to 1.
func NewBulkhead(limit int) *Bulkhead {
	if limit < 1 {
		limit = 1
	}
	return &Bulkhead{permits: make(chan struct{}, limit)}
}

// TryAcquire claims a permit without blocking, reporting whether it
// succeeded.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a previously acquired permit.
func (b *Bulkhead) Release() {
	select {
	case <-b.permits:
	default:
	}
}

// InUse returns the number of permits currently held.
func (b *Bulkhead) InUse() int {
	return len(b.permits)
}

// Execute runs fn under a permit, rejecting with ErrBulkheadFull when none is
// available. The permit is released regardless of fn's outcome.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.TryAcquire() {
		return ErrBulkheadFull
	}
	defer b.Release()
	return fn(ctx)
}
