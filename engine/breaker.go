// ABOUTME: Circuit breaker guarding repeatedly-failing operations: CLOSED/OPEN/HALF_OPEN state
// ABOUTME: machine with a failure threshold and a single trial call after the retry timeout.
package engine

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current disposition toward calls.
type BreakerState string

const (
	// BreakerClosed passes calls through and counts consecutive failures.
	BreakerClosed BreakerState = "CLOSED"
	// BreakerOpen rejects calls immediately until the retry timeout elapses.
	BreakerOpen BreakerState = "OPEN"
	// BreakerHalfOpen allows exactly one trial call to probe recovery.
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker stops calling an operation after it fails repeatedly, and
// probes for recovery with a single trial call once the retry timeout passes.
// The zero value is not usable; construct with NewCircuitBreaker.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	retryTimeout     time.Duration

	state        BreakerState
	failures     int
	openedAt     time.Time
	trialPending bool

	now func() time.Time // injectable clock for tests
}

// NewCircuitBreaker creates a closed breaker that opens after
// failureThreshold consecutive failures and probes again after retryTimeout.
func NewCircuitBreaker(failureThreshold int, retryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if retryTimeout <= 0 {
		retryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		retryTimeout:     retryTimeout,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// State returns the breaker's current state, accounting for retry-timeout
// expiry (an OPEN breaker whose timeout has elapsed reports HALF_OPEN).
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Execute runs fn under the breaker. An open breaker rejects with
// ErrCircuitOpen without invoking fn. Cancellation errors pass through
// without being recorded as failures: they say nothing about the operation's
// health.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	if err != nil && isCancellation(err) {
		b.release()
		return err
	}
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow reports whether a call may proceed, claiming the half-open trial slot
// when applicable.
func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.trialPending {
			return false
		}
		b.trialPending = true
		return true
	default:
		return false
	}
}

// release frees a claimed half-open trial slot without a verdict, used when
// the trial call was cancelled rather than completed.
func (b *CircuitBreaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialPending = false
}

// recordSuccess resets the breaker to CLOSED.
func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.trialPending = false
}

// recordFailure counts a failure, opening the breaker at the threshold. A
// failed half-open trial reopens immediately.
func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trip()
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.trip()
	}
}

// trip moves the breaker to OPEN and stamps the opening time. Caller holds mu.
func (b *CircuitBreaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.trialPending = false
}

// refreshLocked promotes OPEN to HALF_OPEN once the retry timeout has
// elapsed. Caller holds mu.
func (b *CircuitBreaker) refreshLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.retryTimeout {
		b.state = BreakerHalfOpen
		b.trialPending = false
	}
}
