// ABOUTME: Local launcher running commands through the system shell via os/exec.
// ABOUTME: Uses a process group so the whole command tree dies on cancellation or timeout.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// Local executes commands in the engine's own process environment using
// "sh -c". Command environment entries are overlaid on the parent process
// environment.
type Local struct {
	Shell string // defaults to "sh"
}

// Compile-time check that Local implements CommandLauncher.
var _ CommandLauncher = (*Local)(nil)

// NewLocal creates a Local launcher using the default shell.
func NewLocal() *Local {
	return &Local{Shell: "sh"}
}

// Kind returns "local".
func (l *Local) Kind() string { return "local" }

// Execute runs the command under the configured shell, capturing stdout,
// stderr, exit code, and duration. A non-zero exit is reported in the
// Result; an error is returned only for launch failures or context
// interruption.
func (l *Local) Execute(ctx context.Context, command Command) (*Result, error) {
	if command.Script == "" {
		return nil, fmt.Errorf("empty command script")
	}

	shell := l.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command.Script)

	// Set process group so the entire tree dies on cancellation. The default
	// cancel kills only the shell itself; descendants holding the stdout and
	// stderr pipes open would keep Run blocked until they exit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	if command.WorkDir != "" {
		if _, err := os.Stat(command.WorkDir); err != nil {
			return nil, fmt.Errorf("invalid working directory %q: %w", command.WorkDir, err)
		}
		cmd.Dir = command.WorkDir
	}

	cmd.Env = buildEnv(command.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
		Success:  runErr == nil,
	}

	if runErr != nil {
		result.ExitCode = extractExitCode(runErr)
		if _, ok := runErr.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("launching command: %w", runErr)
		}
	}

	return result, nil
}

// buildEnv constructs the child environment by inheriting the parent process
// environment and overlaying the provided variables in sorted key order.
func buildEnv(overlay map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overlay[k]))
	}
	return env
}

// extractExitCode pulls the integer exit code from an *exec.ExitError,
// defaulting to 1 if the type doesn't match.
func extractExitCode(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// killProcessGroup sends SIGKILL to the entire process group of the command,
// so children spawned by the shell are also terminated.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}
