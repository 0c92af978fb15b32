// ABOUTME: Error taxonomy for the execution engine: validation data, execution error types, timeout variants,
// ABOUTME: and fault-tolerance sentinels. Validation errors are returned as data, never raised.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/conveyor/pipeline"
)

// ValidationError is a pre-execution contract violation. It is collected and
// converted into a VALIDATION_FAILED result, never propagated as an error.
type ValidationError struct {
	Field   string
	Message string
	Code    string
}

func (v ValidationError) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Message, v.Code)
}

// Fault-tolerance sentinels.
var (
	// ErrCircuitOpen is returned when a circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrBulkheadFull is returned when a bulkhead rejects a call because
	// all permits are in use.
	ErrBulkheadFull = errors.New("bulkhead full")
)

// NoHandlerError indicates a step kind with no registered handler. This is a
// configuration error, not a user error, and should be fatal at startup.
type NoHandlerError struct {
	Kind pipeline.StepKind
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for step kind %q", e.Kind)
}

// StepExecutionError wraps a failure during step execution.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// StageExecutionError wraps a failure during stage execution.
type StageExecutionError struct {
	Stage string
	Err   error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.Stage, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// PipelineExecutionError wraps a failure during pipeline execution.
type PipelineExecutionError struct {
	Pipeline string
	Err      error
}

func (e *PipelineExecutionError) Error() string {
	return fmt.Sprintf("pipeline %q: %v", e.Pipeline, e.Err)
}

func (e *PipelineExecutionError) Unwrap() error { return e.Err }

// StepTimeoutError reports a step exceeding its configured timeout.
type StepTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.Step, e.Timeout)
}

// StageTimeoutError reports a stage exceeding its configured timeout.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %q timed out after %s", e.Stage, e.Timeout)
}

// StepValidationError wraps the validation errors that produced a
// VALIDATION_FAILED result, for callers that inspect result errors.
type StepValidationError struct {
	Step   string
	Errors []ValidationError
}

func (e *StepValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("step %q validation failed: %s", e.Step, strings.Join(msgs, "; "))
}

// RetryExhaustedError reports that a retry policy ran out of attempts.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// isCancellation reports whether the error is a cooperative cancellation
// signal that must propagate unchanged, never converted into a failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
