// ABOUTME: PipelineExecutor: top-level orchestrator running stages strictly sequentially,
// ABOUTME: emitting lifecycle events and aggregating stage results into a pipeline result.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/2389-research/conveyor/launcher"
	"github.com/2389-research/conveyor/pipeline"
	"github.com/2389-research/conveyor/stash"
)

// Config assembles the collaborators and defaults for a pipeline executor.
type Config struct {
	// Registry supplies step handlers; nil means DefaultRegistry.
	Registry *HandlerRegistry

	// Launcher runs shell commands; nil means a local launcher.
	Launcher launcher.CommandLauncher

	// Stash stores named file sets across stages; nil disables stash steps.
	Stash stash.Storage

	// Events receives lifecycle events; nil disables event publishing.
	Events *EventBus

	// WorkspaceRoot is the directory pipeline steps run in.
	WorkspaceRoot string

	// ArtifactDir is where archive_artifacts copies files; empty disables
	// archiving.
	ArtifactDir string

	// DefaultStepTimeout bounds steps that declare no timeout. Zero means
	// unbounded.
	DefaultStepTimeout time.Duration

	// FailFast stops a stage at its first failing step. Defaults to true
	// via NewPipelineExecutor; a stage may override it.
	FailFast bool

	// Resilience, when layers are enabled, wraps stage executions.
	Resilience ResilienceConfig

	// Job is build metadata injected into every step's environment.
	Job JobInfo
}

// PipelineExecutor runs pipelines stage by stage. Stages execute strictly
// sequentially; parallelism exists only inside parallel steps.
type PipelineExecutor struct {
	cfg    Config
	steps  *StepExecutor
	stages *StageExecutor
}

// NewPipelineExecutor creates an executor from the config, filling in
// defaults for absent collaborators.
func NewPipelineExecutor(cfg Config) *PipelineExecutor {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Launcher == nil {
		cfg.Launcher = launcher.NewLocal()
	}

	steps := NewStepExecutor(cfg.Registry)
	steps.DefaultTimeout = cfg.DefaultStepTimeout

	stages := NewStageExecutor(steps)
	stages.FailFast = cfg.FailFast
	stages.Resilience = cfg.Resilience.Build()

	return &PipelineExecutor{cfg: cfg, steps: steps, stages: stages}
}

// Execute runs the pipeline to completion or to the first stage whose outcome
// stops the run. The returned result is always non-nil; the error is non-nil
// only for cancellation.
func (e *PipelineExecutor) Execute(ctx context.Context, p *pipeline.Pipeline) (*PipelineResult, error) {
	executionID := uuid.NewString()
	result := &PipelineResult{
		ExecutionID:  executionID,
		PipelineID:   p.ID,
		PipelineName: p.Name,
		Status:       StatusRunning,
	}

	ectx := NewExecutionContext(executionID, e.cfg.WorkspaceRoot)
	ectx.ArtifactDir = e.cfg.ArtifactDir
	ectx.Job = e.cfg.Job
	ectx.Launcher = e.cfg.Launcher
	ectx.Stash = e.cfg.Stash
	ectx.Events = e.cfg.Events
	ectx.Executor = e.steps
	ectx.DefaultStepTimeout = e.cfg.DefaultStepTimeout
	if len(p.Environment) > 0 {
		ectx = ectx.WithEnv(p.Environment)
	}
	ectx = ectx.WithEnv(e.cfg.Job.env())
	if p.Agent.Type != "" {
		ectx = ectx.WithLauncher(launcher.ForAgent(p.Agent))
	}

	e.publishPipelineEvent(ectx, EventPipelineStarted, p, nil)

	start := time.Now()
	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			result.Status = StatusCancelled
			result.Error = err
			result.Duration = time.Since(start)
			e.publishPipelineEvent(ectx, EventPipelineFailed, p, result)
			return result, err
		}

		stageResult, err := e.stages.Execute(ctx, stage, ectx)
		if stageResult != nil {
			result.Stages = append(result.Stages, stageResult)
		}
		if err != nil {
			result.Status = StatusCancelled
			result.Error = err
			result.Duration = time.Since(start)
			e.publishPipelineEvent(ectx, EventPipelineFailed, p, result)
			return result, err
		}

		// A failed or timed-out stage stops the run; later stages never
		// start and are absent from the result.
		if stageResult.Status == StatusFailure || stageResult.Status == StatusTimeout {
			break
		}
	}
	result.Duration = time.Since(start)
	result.Status = derivePipelineStatus(result.Stages)
	if f := firstStageFailure(result.Stages); f != nil {
		result.Error = f.Error
	}

	if result.Status == StatusSuccess || result.Status == StatusPartialSuccess {
		e.publishPipelineEvent(ectx, EventPipelineCompleted, p, result)
	} else {
		e.publishPipelineEvent(ectx, EventPipelineFailed, p, result)
	}
	return result, nil
}

// derivePipelineStatus folds stage outcomes into a pipeline status.
func derivePipelineStatus(stages []*StageResult) Status {
	if len(stages) == 0 {
		return StatusSuccess
	}

	var anyTimeout, anyFailed, anyPartial bool
	for _, s := range stages {
		switch s.Status {
		case StatusCancelled:
			return StatusCancelled
		case StatusTimeout:
			anyTimeout = true
		case StatusFailure:
			anyFailed = true
		case StatusPartialSuccess:
			anyPartial = true
		}
	}

	switch {
	case anyTimeout:
		return StatusTimeout
	case anyFailed:
		return StatusFailure
	case anyPartial:
		return StatusPartialSuccess
	default:
		return StatusSuccess
	}
}

// firstStageFailure returns the first non-passing stage result, or nil.
func firstStageFailure(stages []*StageResult) *StageResult {
	for _, s := range stages {
		if !s.Succeeded() && s.Status != StatusPartialSuccess {
			return s
		}
	}
	return nil
}

// publishPipelineEvent emits a pipeline lifecycle event, fire-and-forget.
func (e *PipelineExecutor) publishPipelineEvent(ectx *ExecutionContext, typ EventType, p *pipeline.Pipeline, result *PipelineResult) {
	if ectx.Events == nil {
		return
	}
	evt := Event{
		Type:        typ,
		ExecutionID: ectx.ExecutionID,
		Data: map[string]any{
			"pipeline": p.Name,
		},
	}
	if result != nil {
		evt.Data["status"] = string(result.Status)
		evt.Data["duration"] = result.Duration.String()
		evt.Data["stages"] = len(result.Stages)
		if result.Error != nil {
			evt.Data["error"] = result.Error.Error()
		}
	}
	ectx.Events.Publish(evt)
}
