// ABOUTME: Leaf handlers for the shell and echo step kinds.
// ABOUTME: Shell dispatches through the context's CommandLauncher; the engine never spawns processes directly.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389-research/conveyor/launcher"
	"github.com/2389-research/conveyor/pipeline"
)

// ShellHandler executes shell steps through the context's launcher.
type ShellHandler struct {
	noPrepareCleanup
}

// Kind returns the shell step kind.
func (h *ShellHandler) Kind() pipeline.StepKind { return pipeline.KindShell }

// Validate checks that a script is present and a launcher is configured.
func (h *ShellHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(step.Script) == "" {
		errs = append(errs, ValidationError{
			Field:   "script",
			Message: "shell step requires a non-empty script",
			Code:    "shell.script.empty",
		})
	}
	if ectx.Launcher == nil {
		errs = append(errs, ValidationError{
			Field:   "launcher",
			Message: "no command launcher configured",
			Code:    "shell.launcher.missing",
		})
	}
	return errs
}

// Execute runs the script via the launcher, mapping exit status onto the
// step result.
func (h *ShellHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	launched, err := ectx.Launcher.Execute(ctx, launcher.Command{
		Script:  step.Script,
		WorkDir: ectx.WorkDir,
		Env:     ectx.Env,
	})
	if err != nil {
		return nil, err
	}

	result := NewStepResult(step, StatusSuccess)
	result.Output = launched.Stdout
	result.ExitCode = launched.ExitCode
	result.setMeta("stderr", launched.Stderr)
	result.setMeta("command_duration", launched.Duration.String())

	if !launched.Success {
		result.Status = StatusFailure
		result.Error = &StepExecutionError{
			Step: step.DisplayName(),
			Err:  fmt.Errorf("command exited with code %d", launched.ExitCode),
		}
	}

	return result, nil
}

// EchoHandler prints a message to the run log.
type EchoHandler struct {
	noPrepareCleanup
}

// Kind returns the echo step kind.
func (h *EchoHandler) Kind() pipeline.StepKind { return pipeline.KindEcho }

// Validate accepts any message, including an empty one.
func (h *EchoHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	return nil
}

// Execute records the message in the run log and the result output.
func (h *EchoHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	ectx.Logf("[echo] %s", step.Message)

	result := NewStepResult(step, StatusSuccess)
	result.Output = step.Message
	return result, nil
}
