// ABOUTME: RetryPolicy: configurable retry with exponential backoff, cap, and optional jitter.
// ABOUTME: Distinct from the retry step kind, which retries pipeline steps; this guards arbitrary operations.
package engine

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy retries a failing operation with exponential backoff. The zero
// value is not usable; construct with DefaultRetryPolicy and adjust fields.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// JitterFraction, in [0,1], randomizes each delay by up to that fraction
	// of its value, spreading out retry storms. Zero disables jitter.
	JitterFraction float64

	// Retryable decides whether an error is worth retrying. Nil means every
	// error is retryable. Cancellation is never retried regardless.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns a policy of 3 attempts with 500ms base delay,
// doubling up to 30s, no jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// DelayForAttempt computes the backoff delay after the given 1-based failed
// attempt.
func (p *RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		jitter := delay * p.JitterFraction * rand.Float64()
		delay += jitter
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
		}
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times. Non-retryable errors and
// cancellation return immediately; exhaustion returns a RetryExhaustedError
// wrapping the last error.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if isCancellation(lastErr) {
			return lastErr
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt < attempts {
			sleepWithContext(ctx, p.DelayForAttempt(attempt))
		}
	}
	return &RetryExhaustedError{Attempts: attempts, Err: lastErr}
}
