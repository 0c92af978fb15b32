// ABOUTME: Structural validation rules for pipeline definitions, checked before execution starts.
// ABOUTME: Provides a pluggable LintRule interface, built-in rules, Validate, and ValidateOrError.
package pipeline

import (
	"fmt"
	"strings"
)

// Severity represents diagnostic severity level.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// String returns a human-readable name for the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityInfo:
		return "INFO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Diagnostic represents a validation finding against a pipeline definition.
type Diagnostic struct {
	Rule     string
	Severity Severity
	Message  string
	Stage    string // optional
	StepPath string // optional, e.g. "build/retry[2]/shell"
	Fix      string // optional suggested fix
}

// LintRule is the interface for pipeline validation rules.
type LintRule interface {
	Name() string
	Apply(p *Pipeline) []Diagnostic
}

// builtinRules returns all built-in lint rules.
func builtinRules() []LintRule {
	return []LintRule{
		&hasStagesRule{},
		&uniqueStageNamesRule{},
		&stageNotEmptyRule{},
		&stepKindKnownRule{},
		&retryBoundsRule{},
		&timeoutPositiveRule{},
		&parallelBranchesRule{},
	}
}

// Validate runs all built-in lint rules plus any extra rules on the pipeline.
func Validate(p *Pipeline, extraRules ...LintRule) []Diagnostic {
	var diags []Diagnostic

	rules := builtinRules()
	rules = append(rules, extraRules...)

	for _, rule := range rules {
		diags = append(diags, rule.Apply(p)...)
	}

	return diags
}

// ValidateOrError runs validation and returns an error if any ERROR-severity
// diagnostics exist.
func ValidateOrError(p *Pipeline, extraRules ...LintRule) ([]Diagnostic, error) {
	diags := Validate(p, extraRules...)

	var errCount int
	for _, d := range diags {
		if d.Severity == SeverityError {
			errCount++
		}
	}

	if errCount > 0 {
		return diags, fmt.Errorf("pipeline validation failed with %d error(s)", errCount)
	}

	return diags, nil
}

// walkSteps visits every step in the tree, including nested steps and
// parallel branches, calling fn with a slash-separated path for each.
func walkSteps(prefix string, steps []Step, fn func(path string, s Step)) {
	for i, s := range steps {
		path := fmt.Sprintf("%s/%s[%d]", prefix, s.Kind, i)
		fn(path, s)
		if len(s.Steps) > 0 {
			walkSteps(path, s.Steps, fn)
		}
		for branch, branchSteps := range s.Branches {
			walkSteps(path+"/"+branch, branchSteps, fn)
		}
	}
}

// stageSteps visits every step of a stage including post-action steps.
func stageSteps(st Stage, fn func(path string, s Step)) {
	walkSteps(st.Name, st.Steps, fn)
	for i, pa := range st.Post {
		walkSteps(fmt.Sprintf("%s/post[%d]", st.Name, i), pa.Steps, fn)
	}
}

// --- Built-in lint rules ---

// hasStagesRule checks that the pipeline declares at least one stage.
type hasStagesRule struct{}

func (r *hasStagesRule) Name() string { return "has_stages" }

func (r *hasStagesRule) Apply(p *Pipeline) []Diagnostic {
	if len(p.Stages) > 0 {
		return nil
	}
	return []Diagnostic{{
		Rule:     r.Name(),
		Severity: SeverityError,
		Message:  "pipeline declares no stages",
		Fix:      "add at least one stage",
	}}
}

// uniqueStageNamesRule checks that stage names are unique within the pipeline.
type uniqueStageNamesRule struct{}

func (r *uniqueStageNamesRule) Name() string { return "unique_stage_names" }

func (r *uniqueStageNamesRule) Apply(p *Pipeline) []Diagnostic {
	var diags []Diagnostic
	seen := make(map[string]bool)
	for _, st := range p.Stages {
		if strings.TrimSpace(st.Name) == "" {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  "stage has an empty name",
				Fix:      "give every stage a non-empty name",
			})
			continue
		}
		if seen[st.Name] {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("duplicate stage name %q", st.Name),
				Stage:    st.Name,
				Fix:      "rename one of the duplicate stages",
			})
		}
		seen[st.Name] = true
	}
	return diags
}

// stageNotEmptyRule checks that each stage declares at least one step,
// post-action, or when-condition.
type stageNotEmptyRule struct{}

func (r *stageNotEmptyRule) Name() string { return "stage_not_empty" }

func (r *stageNotEmptyRule) Apply(p *Pipeline) []Diagnostic {
	var diags []Diagnostic
	for _, st := range p.Stages {
		if len(st.Steps) == 0 && len(st.Post) == 0 && st.When == nil {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("stage %q declares no steps, post-actions, or when-condition", st.Name),
				Stage:    st.Name,
				Fix:      "add at least one step, post-action, or when-condition",
			})
		}
	}
	return diags
}

// stepKindKnownRule checks that every step uses a recognized kind.
type stepKindKnownRule struct{}

func (r *stepKindKnownRule) Name() string { return "step_kind_known" }

func (r *stepKindKnownRule) Apply(p *Pipeline) []Diagnostic {
	var diags []Diagnostic
	for _, st := range p.Stages {
		stage := st
		stageSteps(stage, func(path string, s Step) {
			if !KnownKinds[s.Kind] {
				diags = append(diags, Diagnostic{
					Rule:     r.Name(),
					Severity: SeverityError,
					Message:  fmt.Sprintf("step %s has unknown kind %q", path, s.Kind),
					Stage:    stage.Name,
					StepPath: path,
					Fix:      "use one of the built-in step kinds or register a custom handler",
				})
			}
		})
	}
	return diags
}

// retryBoundsRule checks that retry steps declare times in [1,10].
// The hard ceiling of 10 blocks runaway retry loops.
type retryBoundsRule struct{}

func (r *retryBoundsRule) Name() string { return "retry_bounds" }

func (r *retryBoundsRule) Apply(p *Pipeline) []Diagnostic {
	var diags []Diagnostic
	for _, st := range p.Stages {
		stage := st
		stageSteps(stage, func(path string, s Step) {
			if s.Kind != KindRetry {
				return
			}
			if s.Times < 1 || s.Times > 10 {
				diags = append(diags, Diagnostic{
					Rule:     r.Name(),
					Severity: SeverityError,
					Message:  fmt.Sprintf("retry step %s has times=%d, must be in [1,10]", path, s.Times),
					Stage:    stage.Name,
					StepPath: path,
					Fix:      "set times to a value between 1 and 10",
				})
			}
		})
	}
	return diags
}

// timeoutPositiveRule checks that step and stage timeouts, when set, are positive.
type timeoutPositiveRule struct{}

func (r *timeoutPositiveRule) Name() string { return "timeout_positive" }

func (r *timeoutPositiveRule) Apply(p *Pipeline) []Diagnostic {
	var diags []Diagnostic
	for _, st := range p.Stages {
		stage := st
		if stage.Timeout < 0 {
			diags = append(diags, Diagnostic{
				Rule:     r.Name(),
				Severity: SeverityError,
				Message:  fmt.Sprintf("stage %q has negative timeout %s", stage.Name, stage.Timeout),
				Stage:    stage.Name,
				Fix:      "use a positive duration or omit the timeout",
			})
		}
		stageSteps(stage, func(path string, s Step) {
			if s.Timeout < 0 {
				diags = append(diags, Diagnostic{
					Rule:     r.Name(),
					Severity: SeverityError,
					Message:  fmt.Sprintf("step %s has negative timeout %s", path, s.Timeout),
					Stage:    stage.Name,
					StepPath: path,
					Fix:      "use a positive duration or omit the timeout",
				})
			}
			if s.Kind == KindTimeout && s.Duration <= 0 {
				diags = append(diags, Diagnostic{
					Rule:     r.Name(),
					Severity: SeverityError,
					Message:  fmt.Sprintf("timeout step %s has non-positive duration %s", path, s.Duration),
					Stage:    stage.Name,
					StepPath: path,
					Fix:      "set a positive duration",
				})
			}
		})
	}
	return diags
}

// parallelBranchesRule checks that parallel steps declare at least one branch
// and that no branch is empty.
type parallelBranchesRule struct{}

func (r *parallelBranchesRule) Name() string { return "parallel_branches" }

func (r *parallelBranchesRule) Apply(p *Pipeline) []Diagnostic {
	var diags []Diagnostic
	for _, st := range p.Stages {
		stage := st
		stageSteps(stage, func(path string, s Step) {
			if s.Kind != KindParallel {
				return
			}
			if len(s.Branches) == 0 {
				diags = append(diags, Diagnostic{
					Rule:     r.Name(),
					Severity: SeverityError,
					Message:  fmt.Sprintf("parallel step %s declares no branches", path),
					Stage:    stage.Name,
					StepPath: path,
					Fix:      "declare at least one branch",
				})
				return
			}
			for name, branch := range s.Branches {
				if len(branch) == 0 {
					diags = append(diags, Diagnostic{
						Rule:     r.Name(),
						Severity: SeverityError,
						Message:  fmt.Sprintf("parallel step %s branch %q has no steps", path, name),
						Stage:    stage.Name,
						StepPath: path,
						Fix:      "add at least one step to the branch",
					})
				}
			}
		})
	}
	return diags
}
