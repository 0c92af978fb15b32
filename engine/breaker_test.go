// ABOUTME: Tests for the circuit breaker state machine: threshold trip, open rejection,
// ABOUTME: half-open single trial, reset on success, and cancellation passthrough.
package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errScripted = errors.New("scripted failure")

func failing(ctx context.Context) error { return errScripted }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	b := NewCircuitBreaker(5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Execute(ctx, failing); !errors.Is(err, errScripted) {
			t.Fatalf("call %d: expected scripted failure, got %v", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected OPEN after 5 failures, got %s", b.State())
	}

	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := NewCircuitBreaker(5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = b.Execute(ctx, failing)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected CLOSED after 4 failures, got %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	if b.State() != BreakerClosed {
		t.Errorf("expected CLOSED, the count must reset on success, got %s", b.State())
	}
}

func TestBreakerHalfOpensAfterRetryTimeout(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), failing)
	if b.State() != BreakerOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	now = now.Add(61 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected HALF_OPEN after timeout, got %s", b.State())
	}
}

func TestHalfOpenAllowsExactlyOneTrial(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), failing)
	now = now.Add(2 * time.Minute)

	blocked := make(chan struct{})
	release := make(chan struct{})
	trialErr := make(chan error, 1)
	go func() {
		trialErr <- b.Execute(context.Background(), func(ctx context.Context) error {
			close(blocked)
			<-release
			return nil
		})
	}()

	<-blocked
	// While the trial is in flight, a second call is rejected.
	if err := b.Execute(context.Background(), succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen during trial, got %v", err)
	}
	close(release)

	if err := <-trialErr; err != nil {
		t.Fatalf("trial failed: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected CLOSED after trial success, got %s", b.State())
	}
}

func TestFailedTrialReopensBreaker(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), failing)
	now = now.Add(2 * time.Minute)

	if err := b.Execute(context.Background(), failing); !errors.Is(err, errScripted) {
		t.Fatalf("expected the trial to run, got %v", err)
	}
	if b.State() != BreakerOpen {
		t.Errorf("expected OPEN after failed trial, got %s", b.State())
	}
}

func TestCancellationIsNotRecordedAsFailure(t *testing.T) {
	b := NewCircuitBreaker(1, time.Minute)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("wrapped: %w", context.Canceled)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation passthrough, got %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("cancellation must not trip the breaker, got %s", b.State())
	}
}
