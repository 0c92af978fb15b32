// ABOUTME: Shared test fixtures for the engine package: scripted fake handlers and context builders.
// ABOUTME: Fakes register into fresh registries per test, never the default registry.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389-research/conveyor/pipeline"
)

// fakeHandler is a scriptable StepHandler for tests. Its behavior is driven
// by the callbacks; nil callbacks mean "validate passes" and "execute
// succeeds".
type fakeHandler struct {
	noPrepareCleanup
	kind       pipeline.StepKind
	validateFn func(pipeline.Step, *ExecutionContext) []ValidationError
	executeFn  func(context.Context, pipeline.Step, *ExecutionContext) (*StepResult, error)
}

func (h *fakeHandler) Kind() pipeline.StepKind { return h.kind }

func (h *fakeHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	if h.validateFn == nil {
		return nil
	}
	return h.validateFn(step, ectx)
}

func (h *fakeHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	if h.executeFn == nil {
		return NewStepResult(step, StatusSuccess), nil
	}
	return h.executeFn(ctx, step, ectx)
}

// scriptedShell is a fake shell handler whose verdict depends on the script:
// "fail" produces a FAILURE result, "boom" panics, anything else succeeds.
// A script of the form "fail-until-N" fails until the Nth call, then
// succeeds, for retry tests.
type scriptedShell struct {
	noPrepareCleanup
	mu    sync.Mutex
	calls map[string]int
}

func newScriptedShell() *scriptedShell {
	return &scriptedShell{calls: make(map[string]int)}
}

func (h *scriptedShell) Kind() pipeline.StepKind { return pipeline.KindShell }

func (h *scriptedShell) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	if step.Script == "" {
		return []ValidationError{{Field: "script", Message: "empty script", Code: "shell.script.empty"}}
	}
	return nil
}

func (h *scriptedShell) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	h.mu.Lock()
	h.calls[step.Script]++
	n := h.calls[step.Script]
	h.mu.Unlock()

	switch {
	case step.Script == "boom":
		panic("scripted panic")
	case step.Script == "fail":
		result := NewStepResult(step, StatusFailure)
		result.Error = fmt.Errorf("scripted failure")
		return result, nil
	case step.Script == "fail-until-2" && n < 2, step.Script == "fail-until-3" && n < 3:
		result := NewStepResult(step, StatusFailure)
		result.Error = fmt.Errorf("scripted failure on call %d", n)
		return result, nil
	default:
		result := NewStepResult(step, StatusSuccess)
		result.Output = step.Script
		return result, nil
	}
}

// callCount returns how many times the given script has executed.
func (h *scriptedShell) callCount(script string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[script]
}

// newTestRegistry creates a registry with all built-in handlers plus a
// scripted shell handler replacing the real one.
func newTestRegistry() (*HandlerRegistry, *scriptedShell) {
	reg := DefaultRegistry()
	shell := newScriptedShell()
	reg.Register(shell)
	return reg, shell
}

// newTestContext creates an execution context wired to an executor over the
// given registry.
func newTestContext(reg *HandlerRegistry, workDir string) *ExecutionContext {
	ectx := NewExecutionContext("test-exec", workDir)
	ectx.Executor = NewStepExecutor(reg)
	return ectx
}
