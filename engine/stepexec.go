// ABOUTME: StepExecutor: the single dispatch point running every step through the shared lifecycle wrapper.
// ABOUTME: Applies validation short-circuit, execute-phase timeout, panic recovery, and metadata enrichment.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/2389-research/conveyor/pipeline"
)

// StepExecutor looks up handlers and drives the step lifecycle. Every
// nested-step handler calls back into Execute for its children; bypassing
// the dispatcher would lose validation, timeout, and metadata enrichment.
type StepExecutor struct {
	registry *HandlerRegistry

	// DefaultTimeout bounds the execute phase when the step declares no
	// timeout of its own. Zero means unbounded.
	DefaultTimeout time.Duration
}

// NewStepExecutor creates a step executor over the given registry.
func NewStepExecutor(registry *HandlerRegistry) *StepExecutor {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &StepExecutor{registry: registry}
}

// Registry returns the executor's handler registry.
func (e *StepExecutor) Registry() *HandlerRegistry {
	return e.registry
}

// Execute runs one step through its full lifecycle and returns its result.
// A non-nil error is returned only for cancellation (which must propagate
// unchanged through every scope) and for missing-handler configuration
// errors; every other failure is expressed as a result status.
func (e *StepExecutor) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return NewStepResult(step, StatusCancelled), err
	}

	handler, err := e.registry.Lookup(step.Kind)
	if err != nil {
		return nil, err
	}

	e.publishStepEvent(ectx, EventStepStarted, step, nil)

	result, err := e.executeLifecycle(ctx, handler, step, ectx)
	if result != nil {
		e.publishStepEvent(ectx, EventStepCompleted, step, result)
	}
	return result, err
}

// executeLifecycle sequences validate → prepare → execute → cleanup. This is
// the one piece of behavior shared by all handlers.
func (e *StepExecutor) executeLifecycle(ctx context.Context, handler StepHandler, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	// Validation failures are data, not errors: short-circuit without
	// calling prepare, execute, or cleanup.
	if verrs := handler.Validate(step, ectx); len(verrs) > 0 {
		result := NewStepResult(step, StatusValidationFailed)
		result.Error = &StepValidationError{Step: step.DisplayName(), Errors: verrs}
		result.setMeta("validation_errors", verrs)
		return result, nil
	}

	if err := handler.Prepare(ctx, step, ectx); err != nil {
		if isCancellation(err) && ctx.Err() != nil {
			return NewStepResult(step, StatusCancelled), err
		}
		result := NewStepResult(step, StatusFailure)
		result.Error = &StepExecutionError{Step: step.DisplayName(), Err: fmt.Errorf("prepare: %w", err)}
		return result, nil
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, execErr := safeExecute(execCtx, handler, step, ectx)
	elapsed := time.Since(start)

	switch {
	case execErr != nil && ctx.Err() != nil:
		// The enclosing scope was cancelled or timed out; propagate the
		// signal unchanged rather than converting it into a failure.
		if result == nil {
			result = NewStepResult(step, StatusCancelled)
		}
		result.Status = StatusCancelled
		result.Duration = elapsed
		return result, ctx.Err()

	case execErr != nil && execCtx.Err() == context.DeadlineExceeded:
		// The step's own timeout fired.
		result = NewStepResult(step, StatusTimeout)
		result.Duration = elapsed
		result.Error = &StepTimeoutError{Step: step.DisplayName(), Timeout: timeout}
		result.setMeta("timeout", timeout.String())

	case execErr != nil:
		result = NewStepResult(step, StatusFailure)
		result.Duration = elapsed
		result.Error = &StepExecutionError{Step: step.DisplayName(), Err: execErr}

	default:
		if result == nil {
			result = NewStepResult(step, StatusSuccess)
		}
		if result.StepName == "" {
			result.StepName = step.DisplayName()
		}
		if result.Kind == "" {
			result.Kind = step.Kind
		}
		result.Duration = elapsed
		e.enrich(result, ectx)
	}

	// Cleanup is best-effort: its errors are logged and never override the
	// already-determined result.
	if cleanupErr := cleanupSafely(ctx, handler, step, ectx, result); cleanupErr != nil {
		ectx.Logf("step %q cleanup error: %v", step.DisplayName(), cleanupErr)
	}

	return result, nil
}

// enrich attaches execution metadata to a successful result for
// observability.
func (e *StepExecutor) enrich(result *StepResult, ectx *ExecutionContext) {
	if result.Status != StatusSuccess {
		return
	}
	if ectx.Launcher != nil {
		result.setMeta("launcher", ectx.Launcher.Kind())
	}
	result.setMeta("goroutines", runtime.NumGoroutine())
	result.setMeta("executed_at", time.Now().UTC().Format(time.RFC3339))
}

// publishStepEvent emits a step lifecycle event, fire-and-forget.
func (e *StepExecutor) publishStepEvent(ectx *ExecutionContext, typ EventType, step pipeline.Step, result *StepResult) {
	if ectx.Events == nil {
		return
	}
	evt := Event{
		Type:        typ,
		ExecutionID: ectx.ExecutionID,
		Stage:       ectx.Stage,
		Step:        step.DisplayName(),
	}
	if result != nil {
		evt.Data = map[string]any{
			"status":   string(result.Status),
			"duration": result.Duration.String(),
		}
		if result.Error != nil {
			evt.Data["error"] = result.Error.Error()
		}
	}
	ectx.Events.Publish(evt)
}

// safeExecute wraps handler.Execute with panic recovery, converting panics
// into errors so a misbehaving handler cannot crash the engine.
func safeExecute(ctx context.Context, handler StepHandler, step pipeline.Step, ectx *ExecutionContext) (result *StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = fmt.Errorf("handler panic in step %q: %v\n%s", step.DisplayName(), r, stack)
			result = nil
		}
	}()
	return handler.Execute(ctx, step, ectx)
}

// cleanupSafely calls handler.Cleanup with panic recovery.
func cleanupSafely(ctx context.Context, handler StepHandler, step pipeline.Step, ectx *ExecutionContext, result *StepResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panic: %v", r)
		}
	}()
	return handler.Cleanup(ctx, step, ectx, result)
}

// sleepWithContext sleeps for the given duration, returning early if the
// context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
