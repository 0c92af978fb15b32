// ABOUTME: ResilientExecutor composes bulkhead, circuit breaker, and retry policy around an operation.
// ABOUTME: Layering is bulkhead outermost, then breaker, then retry; each layer is optional.
package engine

import (
	"context"
	"time"
)

// ResilientExecutor wraps an operation in fault-tolerance layers. From the
// outside in: the bulkhead bounds concurrency, the circuit breaker rejects
// calls to a failing operation, and the retry policy re-runs individual
// failures. Retry sits innermost so a rejected call (open breaker, full
// bulkhead) is never retried, and so breaker counts see each underlying
// attempt's final verdict exactly once.
type ResilientExecutor struct {
	bulkhead *Bulkhead
	breaker  *CircuitBreaker
	retry    *RetryPolicy
}

// ResilienceConfig selects which fault-tolerance layers to build. Zero-valued
// sections disable their layer.
type ResilienceConfig struct {
	// BulkheadLimit bounds concurrent executions; 0 disables the bulkhead.
	BulkheadLimit int

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit; 0 disables the breaker.
	BreakerThreshold int

	// BreakerRetryTimeout is how long an open breaker waits before allowing
	// a trial call.
	BreakerRetryTimeout time.Duration

	// Retry, when non-nil, re-runs failing executions per the policy.
	Retry *RetryPolicy
}

// Build constructs the executor described by the config, or nil when every
// layer is disabled.
func (c ResilienceConfig) Build() *ResilientExecutor {
	var r ResilientExecutor
	if c.BulkheadLimit > 0 {
		r.bulkhead = NewBulkhead(c.BulkheadLimit)
	}
	if c.BreakerThreshold > 0 {
		r.breaker = NewCircuitBreaker(c.BreakerThreshold, c.BreakerRetryTimeout)
	}
	r.retry = c.Retry
	if r.bulkhead == nil && r.breaker == nil && r.retry == nil {
		return nil
	}
	return &r
}

// NewResilientExecutor composes the given layers directly; any of them may be
// nil.
func NewResilientExecutor(bulkhead *Bulkhead, breaker *CircuitBreaker, retry *RetryPolicy) *ResilientExecutor {
	return &ResilientExecutor{bulkhead: bulkhead, breaker: breaker, retry: retry}
}

// BreakerState returns the circuit breaker's state, or BreakerClosed when no
// breaker is configured.
func (r *ResilientExecutor) BreakerState() BreakerState {
	if r == nil || r.breaker == nil {
		return BreakerClosed
	}
	return r.breaker.State()
}

// Execute runs fn through the configured layers. A nil receiver runs fn
// directly.
func (r *ResilientExecutor) Execute(ctx context.Context, fn func(context.Context) error) error {
	if r == nil {
		return fn(ctx)
	}

	wrapped := fn
	if r.retry != nil {
		inner := wrapped
		retry := r.retry
		wrapped = func(ctx context.Context) error {
			return retry.Execute(ctx, inner)
		}
	}
	if r.breaker != nil {
		inner := wrapped
		breaker := r.breaker
		wrapped = func(ctx context.Context) error {
			return breaker.Execute(ctx, inner)
		}
	}
	if r.bulkhead != nil {
		inner := wrapped
		bulkhead := r.bulkhead
		wrapped = func(ctx context.Context) error {
			return bulkhead.Execute(ctx, inner)
		}
	}
	return wrapped(ctx)
}
