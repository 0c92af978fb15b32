// ABOUTME: Execution result types: step/stage/pipeline statuses and the immutable result records
// ABOUTME: aggregated upward from handlers through the stage executor to the pipeline executor.
package engine

import (
	"time"

	"github.com/2389-research/conveyor/pipeline"
)

// Status represents the outcome of executing a step, stage, or pipeline.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusSuccess          Status = "success"
	StatusFailure          Status = "failure"
	StatusPartialSuccess   Status = "partial_success"
	StatusSkipped          Status = "skipped"
	StatusTimeout          Status = "timeout"
	StatusCancelled        Status = "cancelled"
	StatusValidationFailed Status = "validation_failed"
)

// Terminal reports whether the status is a terminal outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending, StatusRunning:
		return false
	default:
		return true
	}
}

// Passed reports whether the status counts as a pass when deriving an
// enclosing scope's status.
func (s Status) Passed() bool {
	return s == StatusSuccess || s == StatusSkipped
}

// StepResult is the immutable outcome of one step execution.
type StepResult struct {
	StepName string
	Kind     pipeline.StepKind
	Status   Status
	Duration time.Duration
	Output   string
	Error    error
	ExitCode int
	Metadata map[string]any
}

// NewStepResult creates a result for the given step with the given status.
func NewStepResult(step pipeline.Step, status Status) *StepResult {
	return &StepResult{
		StepName: step.DisplayName(),
		Kind:     step.Kind,
		Status:   status,
		Metadata: make(map[string]any),
	}
}

// setMeta records a metadata entry, allocating the map if needed.
func (r *StepResult) setMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// StageResult is the immutable outcome of one stage execution. Step results
// preserve declaration order.
type StageResult struct {
	StageName string
	Status    Status
	Steps     []*StepResult
	Duration  time.Duration
	Error     error
}

// Succeeded reports whether the stage outcome counts as success for
// post-action condition matching.
func (r *StageResult) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusSkipped
}

// PipelineResult is the aggregate outcome of a pipeline run. Stage results
// preserve declaration order; stages never started are absent.
type PipelineResult struct {
	ExecutionID  string
	PipelineID   string
	PipelineName string
	Status       Status
	Stages       []*StageResult
	Duration     time.Duration
	Error        error
}

// FindStage returns the result for the named stage, or nil if it never ran.
func (r *PipelineResult) FindStage(name string) *StageResult {
	for _, st := range r.Stages {
		if st.StageName == name {
			return st
		}
	}
	return nil
}
