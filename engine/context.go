// ABOUTME: ExecutionContext carries per-run configuration through the call tree; scopes copy, never mutate.
// ABOUTME: Also provides the shared thread-safe run log and sensitive-value masking for diagnostics.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389-research/conveyor/launcher"
	"github.com/2389-research/conveyor/stash"
)

// JobInfo carries job metadata injected into every step's environment.
type JobInfo struct {
	Name        string
	BuildNumber int
	GitBranch   string
	GitCommit   string
}

// env returns the environment overlay contributed by the job metadata.
// Zero-valued fields contribute nothing.
func (j JobInfo) env() map[string]string {
	out := make(map[string]string)
	if j.Name != "" {
		out["JOB_NAME"] = j.Name
	}
	if j.BuildNumber > 0 {
		out["BUILD_NUMBER"] = fmt.Sprintf("%d", j.BuildNumber)
	}
	if j.GitBranch != "" {
		out["GIT_BRANCH"] = j.GitBranch
	}
	if j.GitCommit != "" {
		out["GIT_COMMIT"] = j.GitCommit
	}
	return out
}

// ExecutionContext is the per-invocation execution configuration handed to
// step handlers. A narrower scope (stage, dir, with_env) derives its own
// copy via the With* methods; environment maps are copy-on-write and child
// mutations never propagate upward.
type ExecutionContext struct {
	ExecutionID   string
	WorkDir       string
	Env           map[string]string
	WorkspaceRoot string
	ArtifactDir   string
	Job           JobInfo

	Launcher launcher.CommandLauncher
	Stash    stash.Storage
	Events   *EventBus

	// Executor is the dispatch point nested-step handlers call back into.
	Executor *StepExecutor

	// DefaultStepTimeout bounds step execution when a step declares none.
	DefaultStepTimeout time.Duration

	// Stage is the name of the enclosing stage, if any.
	Stage string

	log *RunLog
}

// NewExecutionContext creates a root context for one pipeline run. The run
// log is shared by every derived copy.
func NewExecutionContext(executionID, workspaceRoot string) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:   executionID,
		WorkDir:       workspaceRoot,
		WorkspaceRoot: workspaceRoot,
		Env:           make(map[string]string),
		log:           NewRunLog(),
	}
}

// clone returns a shallow copy with an independent copy of the env map.
func (c *ExecutionContext) clone() *ExecutionContext {
	cp := *c
	cp.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		cp.Env[k] = v
	}
	return &cp
}

// WithWorkDir returns a copy of the context rooted at the given directory.
func (c *ExecutionContext) WithWorkDir(dir string) *ExecutionContext {
	cp := c.clone()
	cp.WorkDir = dir
	return cp
}

// WithEnv returns a copy of the context whose environment is this context's
// environment plus the overlay. Parent scopes are never affected.
func (c *ExecutionContext) WithEnv(overlay map[string]string) *ExecutionContext {
	cp := c.clone()
	for k, v := range overlay {
		cp.Env[k] = v
	}
	return cp
}

// WithLauncher returns a copy of the context using the given launcher.
func (c *ExecutionContext) WithLauncher(l launcher.CommandLauncher) *ExecutionContext {
	cp := c.clone()
	cp.Launcher = l
	return cp
}

// WithStage returns a copy of the context scoped to the named stage, with
// STAGE_NAME injected into the environment.
func (c *ExecutionContext) WithStage(name string) *ExecutionContext {
	cp := c.WithEnv(map[string]string{"STAGE_NAME": name})
	cp.Stage = name
	return cp
}

// Logf appends a formatted entry to the shared run log.
func (c *ExecutionContext) Logf(format string, args ...any) {
	if c.log != nil {
		c.log.Appendf(format, args...)
	}
}

// Logs returns a copy of the run log entries accumulated so far.
func (c *ExecutionContext) Logs() []string {
	if c.log == nil {
		return nil
	}
	return c.log.Entries()
}

// RunLog is a thread-safe append-only log shared across every scope of a run.
type RunLog struct {
	mu      sync.Mutex
	entries []string
}

// NewRunLog creates an empty run log.
func NewRunLog() *RunLog {
	return &RunLog{entries: make([]string, 0)}
}

// Appendf formats and appends one entry.
func (l *RunLog) Appendf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of all entries.
func (l *RunLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// sensitiveKeyFragments lists substrings that mark an environment variable
// as secret-bearing for diagnostic masking.
var sensitiveKeyFragments = []string{
	"PASSWORD", "SECRET", "TOKEN", "KEY", "CREDENTIAL", "PASSPHRASE",
}

// IsSensitiveKey reports whether an environment variable name matches the
// sensitive-name heuristics.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(upper, frag) {
			return true
		}
	}
	return false
}

// MaskValue returns the value suitable for diagnostic logging: sensitive
// keys are replaced with asterisks.
func MaskValue(key, value string) string {
	if IsSensitiveKey(key) {
		return "****"
	}
	return value
}

// sortedKeys returns the map's keys in sorted order, for deterministic
// logging and env construction.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
