// ABOUTME: Tests for the retry policy: backoff growth and capping, jitter bounds, exhaustion error,
// ABOUTME: non-retryable short-circuit, and cancellation passthrough.
package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsExponentiallyAndCaps(t *testing.T) {
	p := &RetryPolicy{
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   500 * time.Millisecond,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 500 * time.Millisecond}, // capped
		{10, 500 * time.Millisecond},
	}
	for _, c := range cases {
		if got := p.DelayForAttempt(c.attempt); got != c.want {
			t.Errorf("attempt %d: expected %v, got %v", c.attempt, c.want, got)
		}
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	p := &RetryPolicy{
		BaseDelay:      100 * time.Millisecond,
		Multiplier:     1.0,
		JitterFraction: 0.5,
	}
	for i := 0; i < 50; i++ {
		d := p.DelayForAttempt(1)
		if d < 100*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v out of [100ms,150ms]", d)
		}
	}
}

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errScripted
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteExhaustionWrapsLastError(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errScripted
	})
	var ree *RetryExhaustedError
	if !errors.As(err, &ree) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if ree.Attempts != 2 {
		t.Errorf("expected 2 attempts recorded, got %d", ree.Attempts)
	}
	if !errors.Is(err, errScripted) {
		t.Error("expected the last error to be wrapped")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestNonRetryableErrorReturnsImmediately(t *testing.T) {
	p := &RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return false },
	}

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errScripted
	})
	if !errors.Is(err, errScripted) {
		t.Fatalf("expected the raw error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestCancellationIsNeverRetried(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call, got %d", calls)
	}
}

func TestResilientExecutorComposesLayers(t *testing.T) {
	r := ResilienceConfig{
		BulkheadLimit:    1,
		BreakerThreshold: 2,
		Retry:            &RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}.Build()
	if r == nil {
		t.Fatal("expected a built executor")
	}

	// One outer call with a retrying inner failure: the breaker sees the
	// retry layer's single final verdict, not every attempt.
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errScripted
	})
	var ree *RetryExhaustedError
	if !errors.As(err, &ree) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if r.BreakerState() != BreakerClosed {
		t.Errorf("one exhausted call must not trip a threshold-2 breaker, got %s", r.BreakerState())
	}
}

func TestEmptyResilienceConfigBuildsNil(t *testing.T) {
	if r := (ResilienceConfig{}).Build(); r != nil {
		t.Errorf("expected nil executor for empty config, got %+v", r)
	}
}

func TestNilResilientExecutorRunsDirectly(t *testing.T) {
	var r *ResilientExecutor
	calls := 0
	if err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
