// ABOUTME: CommandLauncher boundary: the engine never spawns processes directly.
// ABOUTME: Defines the launcher interface, command/result types, and agent-based launcher selection.
package launcher

import (
	"context"
	"time"

	"github.com/2389-research/conveyor/pipeline"
)

// Command describes one shell invocation requested by a step handler.
type Command struct {
	Script  string
	WorkDir string
	Env     map[string]string // overlaid on the launcher's base environment
}

// Result is the observable outcome of a launched command. A non-zero exit
// code is a Result, not an error; errors are reserved for launch failures.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Success  bool
}

// CommandLauncher executes commands on behalf of step handlers.
type CommandLauncher interface {
	// Kind returns a short identifier for the launcher type, recorded in
	// step result metadata.
	Kind() string

	// Execute runs the command, honoring context cancellation. It returns
	// an error only when the command could not be launched or was
	// interrupted by the context; command failure is reported via Result.
	Execute(ctx context.Context, cmd Command) (*Result, error)
}

// ForAgent selects a launcher for the given agent declaration. Locally
// executable agents get a Local launcher; anything else (docker, remote
// nodes) gets a Passthrough placeholder.
func ForAgent(agent pipeline.Agent) CommandLauncher {
	if agent.LocallyExecutable() {
		return NewLocal()
	}
	return NewPassthrough(string(agent.Type))
}
