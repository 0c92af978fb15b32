// ABOUTME: Tests for the step executor lifecycle: validation short-circuit, timeout, panic recovery,
// ABOUTME: cancellation propagation, and result metadata enrichment.
package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2389-research/conveyor/pipeline"
)

func TestExecuteUnknownKindReturnsNoHandlerError(t *testing.T) {
	reg := NewHandlerRegistry()
	ectx := newTestContext(reg, t.TempDir())

	_, err := ectx.Executor.Execute(context.Background(), pipeline.Shell("true"), ectx)
	var nhe *NoHandlerError
	if !errors.As(err, &nhe) {
		t.Fatalf("expected NoHandlerError, got %v", err)
	}
	if nhe.Kind != pipeline.KindShell {
		t.Errorf("expected kind shell, got %q", nhe.Kind)
	}
}

func TestValidationFailureShortCircuitsExecution(t *testing.T) {
	reg, shell := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	result, err := ectx.Executor.Execute(context.Background(), pipeline.Shell(""), ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusValidationFailed {
		t.Errorf("expected validation_failed, got %s", result.Status)
	}
	if shell.callCount("") != 0 {
		t.Error("execute must not run after validation failure")
	}
	var sve *StepValidationError
	if !errors.As(result.Error, &sve) {
		t.Errorf("expected StepValidationError, got %v", result.Error)
	}
}

func TestHandlerPanicBecomesFailureResult(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	result, err := ectx.Executor.Execute(context.Background(), pipeline.Shell("boom"), ectx)
	if err != nil {
		t.Fatalf("panic must not surface as error: %v", err)
	}
	if result.Status != StatusFailure {
		t.Errorf("expected failure, got %s", result.Status)
	}
	if result.Error == nil {
		t.Error("expected an error describing the panic")
	}
}

func TestStepTimeoutProducesTimeoutResult(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register(&fakeHandler{
		kind: pipeline.KindShell,
		executeFn: func(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Shell("sleep")
	step.Timeout = 20 * time.Millisecond

	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("step timeout must not propagate as error: %v", err)
	}
	if result.Status != StatusTimeout {
		t.Errorf("expected timeout, got %s", result.Status)
	}
	var ste *StepTimeoutError
	if !errors.As(result.Error, &ste) {
		t.Fatalf("expected StepTimeoutError, got %v", result.Error)
	}
	if ste.Timeout != step.Timeout {
		t.Errorf("expected timeout %s, got %s", step.Timeout, ste.Timeout)
	}
}

func TestParentCancellationPropagatesAsError(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register(&fakeHandler{
		kind: pipeline.KindShell,
		executeFn: func(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	ectx := newTestContext(reg, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := ectx.Executor.Execute(ctx, pipeline.Shell("sleep"), ectx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", result.Status)
	}
}

func TestAlreadyCancelledContextSkipsExecution(t *testing.T) {
	reg, shell := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := ectx.Executor.Execute(ctx, pipeline.Shell("true"), ectx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", result.Status)
	}
	if shell.callCount("true") != 0 {
		t.Error("handler must not run under a cancelled context")
	}
}

func TestSuccessfulStepIsEnrichedWithMetadata(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	result, err := ectx.Executor.Execute(context.Background(), pipeline.Shell("true"), ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if _, ok := result.Metadata["executed_at"]; !ok {
		t.Error("expected executed_at metadata")
	}
	if _, ok := result.Metadata["goroutines"]; !ok {
		t.Error("expected goroutines metadata")
	}
}

func TestStepEventsArePublished(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	var types []EventType
	bus := NewEventBus()
	bus.Subscribe(func(evt Event) { types = append(types, evt.Type) })
	ectx.Events = bus

	if _, err := ectx.Executor.Execute(context.Background(), pipeline.Shell("true"), ectx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(types) != 2 || types[0] != EventStepStarted || types[1] != EventStepCompleted {
		t.Errorf("expected [step.started step.completed], got %v", types)
	}
}
