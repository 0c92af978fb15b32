// ABOUTME: Immutable pipeline definition model: Pipeline, Stage, Agent, WhenCondition, PostAction.
// ABOUTME: Definitions are built once (by a loader or builder) and consumed read-only by the engine.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a pipeline definition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Pipeline is a validated, immutable pipeline definition: an ordered list of
// stages plus pipeline-wide environment and agent defaults. Status transitions
// are expressed via WithStatus copies, never in-place mutation.
type Pipeline struct {
	ID          string
	Name        string
	Stages      []Stage
	Environment map[string]string
	Agent       Agent
	Status      Status
}

// New creates a pipeline definition with a fresh UUID and pending status.
func New(name string, stages []Stage) *Pipeline {
	return &Pipeline{
		ID:     uuid.NewString(),
		Name:   name,
		Stages: stages,
		Status: StatusPending,
	}
}

// WithStatus returns a copy of the pipeline with the given status.
func (p *Pipeline) WithStatus(s Status) *Pipeline {
	cp := *p
	cp.Status = s
	return &cp
}

// FindStage returns the stage with the given name, or nil if not found.
func (p *Pipeline) FindStage(name string) *Stage {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// Stage is one named unit of sequential work within a pipeline.
type Stage struct {
	Name        string
	Steps       []Step
	Agent       *Agent            // optional override of the pipeline agent
	Environment map[string]string // overlaid on the pipeline environment
	When        *WhenCondition    // optional execution gate
	Post        []PostAction
	Timeout     time.Duration // 0 = no stage-level timeout
	FailFast    *bool         // nil = inherit the engine default
}

// AgentType identifies where a stage's commands run.
type AgentType string

const (
	AgentAny    AgentType = "any"
	AgentLocal  AgentType = "local"
	AgentNone   AgentType = "none"
	AgentDocker AgentType = "docker"
	AgentNode   AgentType = "node"
)

// Agent declares the execution environment requested for a pipeline or stage.
type Agent struct {
	Type  AgentType
	Image string // docker image for AgentDocker
	Label string // node selector for AgentNode
}

// LocallyExecutable reports whether commands for this agent can be launched
// in the engine's own process environment. Docker and remote-node agents are
// dispatched through a placeholder launcher instead.
func (a Agent) LocallyExecutable() bool {
	switch a.Type {
	case "", AgentAny, AgentLocal:
		return true
	default:
		return false
	}
}

// WhenCondition gates stage execution on the run's environment.
// All set fields must match for the stage to run.
type WhenCondition struct {
	Branch   string // matches env GIT_BRANCH
	EnvKey   string
	EnvValue string
	Not      bool // invert the overall verdict
}

// Matches evaluates the condition against an environment map.
func (w WhenCondition) Matches(env map[string]string) bool {
	ok := true
	if w.Branch != "" && env["GIT_BRANCH"] != w.Branch {
		ok = false
	}
	if w.EnvKey != "" && env[w.EnvKey] != w.EnvValue {
		ok = false
	}
	if w.Not {
		return !ok
	}
	return ok
}

// PostCondition selects which stage outcomes trigger a post-action.
type PostCondition string

const (
	PostAlways  PostCondition = "always"
	PostSuccess PostCondition = "success"
	PostFailure PostCondition = "failure"
)

// PostAction is a step list conditionally executed after a stage based on its
// outcome. Post-action failures never change the stage's determined status.
type PostAction struct {
	Condition PostCondition
	Steps     []Step
}

// AppliesTo reports whether the post-action should run for the given stage
// success verdict.
func (p PostAction) AppliesTo(succeeded bool) bool {
	switch p.Condition {
	case PostAlways, "":
		return true
	case PostSuccess:
		return succeeded
	case PostFailure:
		return !succeeded
	default:
		return false
	}
}
