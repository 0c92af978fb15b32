// ABOUTME: Tests for the nested-step handlers: dir, with_env, retry, timeout, and parallel.
// ABOUTME: Nested steps dispatch through the scripted shell fake; no real processes are spawned.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389-research/conveyor/pipeline"
)

// --- echo ---

func TestEchoWritesMessageToOutputAndRunLog(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	result, err := ectx.Executor.Execute(context.Background(), pipeline.Echo("hello"), ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Output != "hello" {
		t.Errorf("expected output %q, got %q", "hello", result.Output)
	}
	logs := ectx.Logs()
	if len(logs) == 0 {
		t.Fatal("expected a run log entry")
	}
}

// --- dir ---

func TestDirRunsNestedStepsInDirectory(t *testing.T) {
	reg := DefaultRegistry()
	var seenWorkDir string
	reg.Register(&fakeHandler{
		kind: pipeline.KindShell,
		executeFn: func(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
			seenWorkDir = ectx.WorkDir
			return NewStepResult(step, StatusSuccess), nil
		},
	})
	workDir := t.TempDir()
	ectx := newTestContext(reg, workDir)

	step := pipeline.Dir("sub", pipeline.Shell("pwd"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s: %v", result.Status, result.Error)
	}

	want := filepath.Join(workDir, "sub")
	if seenWorkDir != want {
		t.Errorf("expected nested work dir %q, got %q", want, seenWorkDir)
	}
	if _, statErr := os.Stat(want); statErr != nil {
		t.Errorf("expected directory to be created: %v", statErr)
	}
	// Parent scope is unchanged.
	if ectx.WorkDir != workDir {
		t.Errorf("parent work dir mutated to %q", ectx.WorkDir)
	}
}

func TestDirValidationRejectsEmptyPathAndSteps(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	result, err := ectx.Executor.Execute(context.Background(), pipeline.Step{Kind: pipeline.KindDir}, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusValidationFailed {
		t.Errorf("expected validation_failed, got %s", result.Status)
	}
}

func TestDirFailsWhenPathIsAFile(t *testing.T) {
	reg, _ := newTestRegistry()
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "occupied"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	ectx := newTestContext(reg, workDir)

	step := pipeline.Dir("occupied", pipeline.Shell("true"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFailure {
		t.Errorf("expected failure, got %s", result.Status)
	}
}

// --- with_env ---

func TestWithEnvOverlaysAreScopedToNestedSteps(t *testing.T) {
	reg := DefaultRegistry()
	var seenEnv map[string]string
	reg.Register(&fakeHandler{
		kind: pipeline.KindShell,
		executeFn: func(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
			seenEnv = ectx.Env
			return NewStepResult(step, StatusSuccess), nil
		},
	})
	ectx := newTestContext(reg, t.TempDir())
	ectx.Env["EXISTING"] = "1"

	step := pipeline.WithEnv([]string{"FOO=bar"}, pipeline.Shell("env"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s: %v", result.Status, result.Error)
	}
	if seenEnv["FOO"] != "bar" {
		t.Errorf("expected FOO=bar in nested env, got %q", seenEnv["FOO"])
	}
	if seenEnv["EXISTING"] != "1" {
		t.Error("expected parent env to be inherited")
	}
	if _, ok := ectx.Env["FOO"]; ok {
		t.Error("overlay leaked into the parent scope")
	}
}

func TestWithEnvValidationRejectsMalformedEntries(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	for _, entry := range []string{"NOEQUALS", "=value", ""} {
		step := pipeline.WithEnv([]string{entry}, pipeline.Shell("true"))
		result, err := ectx.Executor.Execute(context.Background(), step, ectx)
		if err != nil {
			t.Fatalf("entry %q: unexpected error: %v", entry, err)
		}
		if result.Status != StatusValidationFailed {
			t.Errorf("entry %q: expected validation_failed, got %s", entry, result.Status)
		}
	}
}

// --- retry ---

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	reg, shell := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Retry(5, pipeline.Shell("fail-until-3"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s: %v", result.Status, result.Error)
	}
	if got := shell.callCount("fail-until-3"); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if result.Metadata["successful_attempt"] != 3 {
		t.Errorf("expected successful_attempt=3, got %v", result.Metadata["successful_attempt"])
	}

	attempts, ok := result.Metadata["attempts"].([]AttemptRecord)
	if !ok {
		t.Fatalf("expected attempts metadata, got %T", result.Metadata["attempts"])
	}
	var prev time.Duration
	for _, a := range attempts[:len(attempts)-1] {
		if a.Delay < prev {
			t.Errorf("backoff delays must be non-decreasing, got %v after %v", a.Delay, prev)
		}
		prev = a.Delay
	}
}

func TestRetryExhaustionReportsFailure(t *testing.T) {
	reg, shell := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Retry(2, pipeline.Shell("fail"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFailure {
		t.Errorf("expected failure, got %s", result.Status)
	}
	if got := shell.callCount("fail"); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if result.Error == nil {
		t.Error("expected the last failure's error on the result")
	}
}

func TestRetryValidationBounds(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	for _, times := range []int{0, 11, -1} {
		step := pipeline.Retry(times, pipeline.Shell("true"))
		result, err := ectx.Executor.Execute(context.Background(), step, ectx)
		if err != nil {
			t.Fatalf("times=%d: unexpected error: %v", times, err)
		}
		if result.Status != StatusValidationFailed {
			t.Errorf("times=%d: expected validation_failed, got %s", times, result.Status)
		}
	}

	step := pipeline.Retry(10, pipeline.Shell("true"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("times=10 must be accepted, got %s", result.Status)
	}
}

// --- timeout ---

func TestTimeoutStepBoundsNestedExecution(t *testing.T) {
	reg := DefaultRegistry()
	reg.Register(&fakeHandler{
		kind: pipeline.KindShell,
		executeFn: func(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Timeout(20*time.Millisecond, pipeline.Shell("sleep"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("nested timeout must not propagate as error: %v", err)
	}
	if result.Status != StatusTimeout {
		t.Errorf("expected timeout, got %s", result.Status)
	}
}

func TestTimeoutStepPassesWhenNestedStepsFinish(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Timeout(time.Second, pipeline.Shell("true"))
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("expected success, got %s: %v", result.Status, result.Error)
	}
}

// --- parallel ---

func TestParallelRunsAllBranches(t *testing.T) {
	reg, shell := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Parallel(map[string][]pipeline.Step{
		"alpha": {pipeline.Shell("a")},
		"beta":  {pipeline.Shell("b")},
	})
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %s: %v", result.Status, result.Error)
	}
	if shell.callCount("a") != 1 || shell.callCount("b") != 1 {
		t.Error("expected both branches to execute")
	}
}

func TestParallelBranchFailurePreservesAllBranchResults(t *testing.T) {
	reg, shell := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Parallel(map[string][]pipeline.Step{
		"ok":  {pipeline.Shell("good")},
		"bad": {pipeline.Shell("fail")},
	})
	result, err := ectx.Executor.Execute(context.Background(), step, ectx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFailure {
		t.Errorf("expected failure, got %s", result.Status)
	}
	// A failing branch never cancels its siblings.
	if shell.callCount("good") != 1 {
		t.Error("expected the passing branch to run to completion")
	}

	branches, ok := result.Metadata["branches"].(map[string][]*StepResult)
	if !ok {
		t.Fatalf("expected branches metadata, got %T", result.Metadata["branches"])
	}
	if len(branches["ok"]) != 1 || len(branches["bad"]) != 1 {
		t.Errorf("expected results for both branches, got %d/%d", len(branches["ok"]), len(branches["bad"]))
	}
}

func TestParallelBranchesSeeBranchName(t *testing.T) {
	reg := DefaultRegistry()
	names := make(map[string]string)
	var mu = make(chan struct{}, 1)
	reg.Register(&fakeHandler{
		kind: pipeline.KindShell,
		executeFn: func(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
			mu <- struct{}{}
			names[step.Script] = ectx.Env["BRANCH_NAME"]
			<-mu
			return NewStepResult(step, StatusSuccess), nil
		},
	})
	ectx := newTestContext(reg, t.TempDir())

	step := pipeline.Parallel(map[string][]pipeline.Step{
		"one": {pipeline.Shell("s1")},
		"two": {pipeline.Shell("s2")},
	})
	if _, err := ectx.Executor.Execute(context.Background(), step, ectx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names["s1"] != "one" || names["s2"] != "two" {
		t.Errorf("expected BRANCH_NAME per branch, got %v", names)
	}
}

func TestParallelValidationRejectsEmptyBranches(t *testing.T) {
	reg, _ := newTestRegistry()
	ectx := newTestContext(reg, t.TempDir())

	for _, branches := range []map[string][]pipeline.Step{
		nil,
		{"empty": {}},
	} {
		result, err := ectx.Executor.Execute(context.Background(), pipeline.Parallel(branches), ectx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Status != StatusValidationFailed {
			t.Errorf("expected validation_failed, got %s", result.Status)
		}
	}
}
