// ABOUTME: StageExecutor: runs one stage's steps sequentially with fail-fast, when-condition gating,
// ABOUTME: agent launcher selection, stage timeout, post-actions, and status derivation.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/2389-research/conveyor/launcher"
	"github.com/2389-research/conveyor/pipeline"
)

// StageExecutor runs stages. FailFast is the engine default; a stage's own
// FailFast field overrides it. Resilience, when non-nil, wraps every stage
// execution.
type StageExecutor struct {
	steps      *StepExecutor
	FailFast   bool
	Resilience *ResilientExecutor
}

// NewStageExecutor creates a stage executor dispatching steps through the
// given step executor. Fail-fast defaults to on.
func NewStageExecutor(steps *StepExecutor) *StageExecutor {
	return &StageExecutor{steps: steps, FailFast: true}
}

// Execute runs one stage and returns its result. A non-nil error is returned
// only for cancellation; every other outcome, including stage timeout, is
// expressed in the result status.
func (e *StageExecutor) Execute(ctx context.Context, stage pipeline.Stage, ectx *ExecutionContext) (*StageResult, error) {
	if err := ctx.Err(); err != nil {
		return &StageResult{StageName: stage.Name, Status: StatusCancelled, Error: err}, err
	}

	// When-condition gating happens before any event or setup: a skipped
	// stage never starts.
	if stage.When != nil && !stage.When.Matches(ectx.Env) {
		e.publishStageEvent(ectx, EventStageSkipped, stage.Name, nil)
		ectx.Logf("[stage %s] skipped: when condition not met", stage.Name)
		return &StageResult{StageName: stage.Name, Status: StatusSkipped}, nil
	}

	e.publishStageEvent(ectx, EventStageStarted, stage.Name, nil)

	stageCtx := ectx.WithStage(stage.Name)
	if len(stage.Environment) > 0 {
		stageCtx = stageCtx.WithEnv(stage.Environment)
	}
	if stage.Agent != nil {
		stageCtx = stageCtx.WithLauncher(launcher.ForAgent(*stage.Agent))
	}

	start := time.Now()
	result, err := e.runStage(ctx, stage, stageCtx)
	result.Duration = time.Since(start)

	// Post-actions run after the stage status is determined, even for a
	// timed-out stage, but not after cancellation.
	if err == nil {
		e.runPostActions(ctx, stage, stageCtx, result)
	}

	switch {
	case err != nil:
		e.publishStageEvent(ectx, EventStageFailed, stage.Name, result)
	case result.Status == StatusFailure || result.Status == StatusTimeout:
		e.publishStageEvent(ectx, EventStageFailed, stage.Name, result)
	default:
		e.publishStageEvent(ectx, EventStageCompleted, stage.Name, result)
	}
	return result, err
}

// runStage executes the stage body under the optional stage timeout and
// resilience layers.
func (e *StageExecutor) runStage(ctx context.Context, stage pipeline.Stage, stageCtx *ExecutionContext) (*StageResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if stage.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	// The body reports a failed stage through its error return so the
	// resilience layers observe it: the retry policy re-runs the steps and
	// the circuit breaker records a failure verdict. The sentinel is
	// unwrapped back into the result below; the outcome stays in the
	// result's status, never in Execute's error return.
	var result *StageResult
	body := func(c context.Context) error {
		var bodyErr error
		result, bodyErr = e.runSteps(c, stage, stageCtx)
		if bodyErr != nil {
			return bodyErr
		}
		if result.Status == StatusFailure || result.Status == StatusTimeout {
			return errStageFailed
		}
		return nil
	}

	var err error
	if e.Resilience != nil {
		err = e.Resilience.Execute(runCtx, body)
	} else {
		err = body(runCtx)
	}

	if result == nil {
		result = &StageResult{StageName: stage.Name}
	}

	switch {
	case err != nil && ctx.Err() != nil:
		// The enclosing scope was cancelled; propagate.
		result.Status = StatusCancelled
		result.Error = ctx.Err()
		return result, ctx.Err()

	case err != nil && runCtx.Err() == context.DeadlineExceeded:
		// The stage's own timeout fired.
		result.Status = StatusTimeout
		result.Error = &StageTimeoutError{Stage: stage.Name, Timeout: stage.Timeout}
		return result, nil

	case errors.Is(err, errStageFailed):
		// Step failures: the result already carries the derived status and
		// first-failure error from the last attempt.
		return result, nil

	case err != nil:
		// Rejection by a fault-tolerance layer or another execution error.
		result.Status = StatusFailure
		result.Error = &StageExecutionError{Stage: stage.Name, Err: err}
		return result, nil
	}
	return result, nil
}

// errStageFailed marks a stage body whose steps failed, so the surrounding
// retry and breaker layers see a failure verdict instead of a clean return.
var errStageFailed = errors.New("stage steps failed")

// runSteps executes the stage's steps in declaration order, honoring the
// effective fail-fast setting, and derives the stage status. The returned
// error is non-nil only for cancellation signals that must propagate.
func (e *StageExecutor) runSteps(ctx context.Context, stage pipeline.Stage, stageCtx *ExecutionContext) (*StageResult, error) {
	result := &StageResult{StageName: stage.Name, Status: StatusRunning}
	failFast := e.FailFast
	if stage.FailFast != nil {
		failFast = *stage.FailFast
	}

	stopped := false
	for _, step := range stage.Steps {
		stepResult, err := e.steps.Execute(ctx, step, stageCtx)
		if stepResult != nil {
			result.Steps = append(result.Steps, stepResult)
		}
		if err != nil {
			if isCancellation(err) && ctx.Err() != nil {
				result.Status = StatusCancelled
				result.Error = err
				return result, err
			}
			return result, err
		}
		if !stepResult.Status.Passed() && !step.ContinueOnError && failFast {
			stopped = true
			break
		}
	}

	result.Status = deriveStageStatus(result.Steps, stopped)
	if result.Status == StatusFailure || result.Status == StatusPartialSuccess || result.Status == StatusTimeout {
		if f := firstFailure(result.Steps); f != nil && f.Error != nil {
			result.Error = &StageExecutionError{Stage: stage.Name, Err: f.Error}
		}
	}
	return result, nil
}

// deriveStageStatus folds step outcomes into a stage status. Cancellation
// and timeout dominate; otherwise all-pass is success. A mix of successes
// and failures is partial success when the stage ran to completion, failure
// when fail-fast stopped it early or nothing actually succeeded.
func deriveStageStatus(steps []*StepResult, stopped bool) Status {
	if len(steps) == 0 {
		return StatusSuccess
	}

	var anyCancelled, anyTimeout, anyFailed, anySucceeded bool
	for _, s := range steps {
		switch s.Status {
		case StatusCancelled:
			anyCancelled = true
		case StatusTimeout:
			anyTimeout = true
		case StatusSkipped:
			// Skipped steps are neutral: they neither fail the stage nor
			// soften a failure into partial success.
		case StatusSuccess:
			anySucceeded = true
		default:
			anyFailed = true
		}
	}

	switch {
	case anyCancelled:
		return StatusCancelled
	case anyTimeout:
		return StatusTimeout
	case !anyFailed:
		return StatusSuccess
	case stopped || !anySucceeded:
		return StatusFailure
	default:
		return StatusPartialSuccess
	}
}

// runPostActions executes the stage's post-actions matching the determined
// outcome. Post-action failures are logged and never change the stage status.
func (e *StageExecutor) runPostActions(ctx context.Context, stage pipeline.Stage, stageCtx *ExecutionContext, result *StageResult) {
	if len(stage.Post) == 0 {
		return
	}
	succeeded := result.Succeeded()

	for _, action := range stage.Post {
		if !action.AppliesTo(succeeded) {
			continue
		}
		for _, step := range action.Steps {
			stepResult, err := e.steps.Execute(ctx, step, stageCtx)
			if err != nil {
				stageCtx.Logf("[stage %s] post-action step %q aborted: %v", stage.Name, step.DisplayName(), err)
				return
			}
			if stepResult != nil && !stepResult.Status.Passed() {
				stageCtx.Logf("[stage %s] post-action step %q failed: %v", stage.Name, step.DisplayName(), stepResult.Error)
			}
		}
	}
}

// publishStageEvent emits a stage lifecycle event, fire-and-forget.
func (e *StageExecutor) publishStageEvent(ectx *ExecutionContext, typ EventType, stageName string, result *StageResult) {
	if ectx.Events == nil {
		return
	}
	evt := Event{
		Type:        typ,
		ExecutionID: ectx.ExecutionID,
		Stage:       stageName,
	}
	if result != nil {
		evt.Data = map[string]any{
			"status":   string(result.Status),
			"duration": result.Duration.String(),
			"steps":    len(result.Steps),
		}
		if result.Error != nil {
			evt.Data["error"] = result.Error.Error()
		}
	}
	ectx.Events.Publish(evt)
}
