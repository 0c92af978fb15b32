// ABOUTME: Retry handler: re-runs its nested step list up to a bounded attempt count with exponential backoff.
// ABOUTME: An attempt succeeds only when every nested step succeeds; cancellation is never retried.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/2389-research/conveyor/pipeline"
)

const (
	// retryBackoffBase is the first inter-attempt delay; attempt n waits
	// base * 2^(n-1), capped at retryBackoffMax.
	retryBackoffBase = 250 * time.Millisecond
	retryBackoffMax  = 30 * time.Second

	// maxRetryTimes is the hard ceiling on retry attempts, blocking
	// runaway loops.
	maxRetryTimes = 10
)

// AttemptRecord captures one retry attempt for result metadata.
type AttemptRecord struct {
	Attempt int           `json:"attempt"`
	Status  Status        `json:"status"`
	Delay   time.Duration `json:"delay"` // backoff waited before the next attempt
	Error   string        `json:"error,omitempty"`
}

// RetryHandler re-executes nested steps until one attempt fully succeeds or
// the attempt budget is exhausted.
type RetryHandler struct {
	noPrepareCleanup
}

// Kind returns the retry step kind.
func (h *RetryHandler) Kind() pipeline.StepKind { return pipeline.KindRetry }

// Validate rejects times outside [1,10] and an empty nested-step list.
func (h *RetryHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if step.Times < 1 || step.Times > maxRetryTimes {
		errs = append(errs, ValidationError{
			Field:   "times",
			Message: fmt.Sprintf("times must be in [1,%d], got %d", maxRetryTimes, step.Times),
			Code:    "retry.times.out_of_range",
		})
	}
	if len(step.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "retry step requires at least one nested step",
			Code:    "retry.steps.empty",
		})
	}
	return errs
}

// Execute runs the nested list up to Times attempts. The first nested
// failure aborts the attempt; between failed attempts an exponentially
// increasing backoff is waited. Success reports which attempt succeeded.
func (h *RetryHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	attempts := make([]AttemptRecord, 0, step.Times)
	var lastResults []*StepResult

	for attempt := 1; attempt <= step.Times; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := runSequence(ctx, step.Steps, ectx)
		if err != nil {
			// Cancellation propagates unchanged, never retried.
			return nil, err
		}
		lastResults = results

		failing := firstFailure(results)
		if failing == nil {
			result := NewStepResult(step, StatusSuccess)
			attempts = append(attempts, AttemptRecord{Attempt: attempt, Status: StatusSuccess})
			result.setMeta("successful_attempt", attempt)
			result.setMeta("attempts", attempts)
			result.setMeta("steps", results)
			return result, nil
		}

		record := AttemptRecord{Attempt: attempt, Status: failing.Status}
		if failing.Error != nil {
			record.Error = failing.Error.Error()
		}

		if attempt < step.Times {
			delay := backoffDelay(attempt)
			record.Delay = delay
			attempts = append(attempts, record)
			ectx.Logf("[retry] attempt %d/%d failed (%s), backing off %s",
				attempt, step.Times, failing.Status, delay)
			sleepWithContext(ctx, delay)
			continue
		}
		attempts = append(attempts, record)
	}

	failing := firstFailure(lastResults)
	result := NewStepResult(step, StatusFailure)
	if failing != nil && failing.Error != nil {
		result.Error = failing.Error
	} else {
		result.Error = &StepExecutionError{
			Step: step.DisplayName(),
			Err:  fmt.Errorf("all %d attempt(s) failed", step.Times),
		}
	}
	result.setMeta("attempts", attempts)
	result.setMeta("steps", lastResults)
	return result, nil
}

// backoffDelay computes base * 2^(attempt-1), capped at retryBackoffMax.
func backoffDelay(attempt int) time.Duration {
	delay := retryBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryBackoffMax {
			return retryBackoffMax
		}
	}
	return delay
}
