// ABOUTME: Timeout handler: bounds its nested step list by a deadline scoped to this step only.
// ABOUTME: Deadline expiry is a TIMEOUT result, distinct from a nested step's own FAILURE.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389-research/conveyor/pipeline"
)

// TimeoutHandler runs nested steps sequentially under a deadline.
type TimeoutHandler struct {
	noPrepareCleanup
}

// Kind returns the timeout step kind.
func (h *TimeoutHandler) Kind() pipeline.StepKind { return pipeline.KindTimeout }

// Validate rejects non-positive durations and an empty nested-step list.
func (h *TimeoutHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if step.Duration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "duration",
			Message: fmt.Sprintf("duration must be positive, got %s", step.Duration),
			Code:    "timeout.duration.invalid",
		})
	}
	if len(step.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "timeout step requires at least one nested step",
			Code:    "timeout.steps.empty",
		})
	}
	return errs
}

// Execute runs the nested steps under the step's deadline. When the deadline
// fires the result is TIMEOUT carrying the configured duration; cancellation
// of the enclosing scope still propagates unchanged.
func (h *TimeoutHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, step.Duration)
	defer cancel()

	results, err := runSequence(deadlineCtx, step.Steps, ectx)
	if err != nil {
		if ctx.Err() != nil {
			// The enclosing scope was cancelled; not our deadline.
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			result := NewStepResult(step, StatusTimeout)
			result.Error = &StepTimeoutError{Step: step.DisplayName(), Timeout: step.Duration}
			result.setMeta("timeout", step.Duration.String())
			result.setMeta("steps", results)
			return result, nil
		}
		return nil, err
	}

	result := wrapNestedOutcome(step, results)
	result.setMeta("timeout", step.Duration.String())
	return result, nil
}
