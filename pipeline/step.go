// ABOUTME: Step as a closed tagged union: one Kind plus per-variant fields.
// ABOUTME: Nested variants (dir, with_env, retry, timeout, parallel) own their child steps by value.
package pipeline

import (
	"fmt"
	"time"
)

// StepKind identifies the variant of a step. The engine dispatches to one
// handler per kind; adding a kind requires only a new handler registration.
type StepKind string

const (
	KindShell              StepKind = "shell"
	KindEcho               StepKind = "echo"
	KindDir                StepKind = "dir"
	KindWithEnv            StepKind = "with_env"
	KindParallel           StepKind = "parallel"
	KindRetry              StepKind = "retry"
	KindTimeout            StepKind = "timeout"
	KindArchiveArtifacts   StepKind = "archive_artifacts"
	KindPublishTestResults StepKind = "publish_test_results"
	KindStash              StepKind = "stash"
	KindUnstash            StepKind = "unstash"
)

// KnownKinds lists every built-in step kind.
var KnownKinds = map[StepKind]bool{
	KindShell:              true,
	KindEcho:               true,
	KindDir:                true,
	KindWithEnv:            true,
	KindParallel:           true,
	KindRetry:              true,
	KindTimeout:            true,
	KindArchiveArtifacts:   true,
	KindPublishTestResults: true,
	KindStash:              true,
	KindUnstash:            true,
}

// Step is the smallest executable unit. Exactly one variant's fields are
// populated, selected by Kind. Steps are immutable once built.
type Step struct {
	Kind StepKind
	Name string // optional display name

	// Timeout bounds this step's execute phase; 0 falls back to the
	// executor-wide default. Must be positive when set.
	Timeout time.Duration

	// ContinueOnError marks a failure of this step as recoverable, so the
	// enclosing stage does not stop on it.
	ContinueOnError bool

	// shell
	Script string
	// echo
	Message string
	// dir
	Path string
	// with_env: KEY=VALUE entries
	Env []string
	// parallel: branch name -> branch steps
	Branches map[string][]Step
	// retry: attempt ceiling, in [1,10]
	Times int
	// timeout: deadline for the nested steps
	Duration time.Duration
	// nested steps for dir, with_env, retry, timeout
	Steps []Step
	// archive_artifacts
	Patterns []string
	// publish_test_results
	Pattern string
	// stash / unstash
	StashName string
	Includes  []string
	Excludes  []string
}

// DisplayName returns the step's name, falling back to its kind.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Kind)
}

// Nested reports whether this step variant wraps child steps.
func (s Step) Nested() bool {
	switch s.Kind {
	case KindDir, KindWithEnv, KindRetry, KindTimeout, KindParallel:
		return true
	default:
		return false
	}
}

// Shell creates a shell step running the given script.
func Shell(script string) Step {
	return Step{Kind: KindShell, Script: script}
}

// Echo creates an echo step printing the given message.
func Echo(message string) Step {
	return Step{Kind: KindEcho, Message: message}
}

// Dir creates a dir step executing nested steps in the given directory.
func Dir(path string, steps ...Step) Step {
	return Step{Kind: KindDir, Path: path, Steps: steps}
}

// WithEnv creates a with_env step executing nested steps with the given
// KEY=VALUE overlays applied.
func WithEnv(env []string, steps ...Step) Step {
	return Step{Kind: KindWithEnv, Env: env, Steps: steps}
}

// Parallel creates a parallel step whose named branches run concurrently.
func Parallel(branches map[string][]Step) Step {
	return Step{Kind: KindParallel, Branches: branches}
}

// Retry creates a retry step executing nested steps up to times attempts.
func Retry(times int, steps ...Step) Step {
	return Step{Kind: KindRetry, Times: times, Steps: steps}
}

// Timeout creates a timeout step bounding nested steps by the given deadline.
func Timeout(d time.Duration, steps ...Step) Step {
	return Step{Kind: KindTimeout, Duration: d, Steps: steps}
}

// ArchiveArtifacts creates a step archiving workspace files matching the
// given glob patterns.
func ArchiveArtifacts(patterns ...string) Step {
	return Step{Kind: KindArchiveArtifacts, Patterns: patterns}
}

// PublishTestResults creates a step collecting JUnit-style XML reports
// matching the given glob pattern.
func PublishTestResults(pattern string) Step {
	return Step{Kind: KindPublishTestResults, Pattern: pattern}
}

// Stash creates a step stashing workspace files under the given name.
func Stash(name string, includes, excludes []string) Step {
	return Step{Kind: KindStash, StashName: name, Includes: includes, Excludes: excludes}
}

// Unstash creates a step restoring a previously stashed file set.
func Unstash(name string) Step {
	return Step{Kind: KindUnstash, StashName: name}
}

// String returns a short human-readable description of the step.
func (s Step) String() string {
	switch s.Kind {
	case KindShell:
		return fmt.Sprintf("shell(%q)", s.Script)
	case KindEcho:
		return fmt.Sprintf("echo(%q)", s.Message)
	case KindDir:
		return fmt.Sprintf("dir(%q, %d step(s))", s.Path, len(s.Steps))
	case KindWithEnv:
		return fmt.Sprintf("with_env(%d var(s), %d step(s))", len(s.Env), len(s.Steps))
	case KindParallel:
		return fmt.Sprintf("parallel(%d branch(es))", len(s.Branches))
	case KindRetry:
		return fmt.Sprintf("retry(%d, %d step(s))", s.Times, len(s.Steps))
	case KindTimeout:
		return fmt.Sprintf("timeout(%s, %d step(s))", s.Duration, len(s.Steps))
	case KindStash, KindUnstash:
		return fmt.Sprintf("%s(%q)", s.Kind, s.StashName)
	default:
		return string(s.Kind)
	}
}
