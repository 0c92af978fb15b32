// ABOUTME: Passthrough launcher used when the requested agent type is not locally executable.
// ABOUTME: Records commands as succeeded without spawning anything, keeping pipelines runnable in dry contexts.
package launcher

import (
	"context"
	"fmt"
	"sync"
)

// Passthrough is a placeholder launcher for agent types the engine cannot
// execute in-process (docker images, remote nodes). Commands are recorded
// and reported as successful without being run.
type Passthrough struct {
	agentType string

	mu       sync.Mutex
	commands []Command
}

// Compile-time check that Passthrough implements CommandLauncher.
var _ CommandLauncher = (*Passthrough)(nil)

// NewPassthrough creates a passthrough launcher labeled with the agent type
// it stands in for.
func NewPassthrough(agentType string) *Passthrough {
	return &Passthrough{agentType: agentType}
}

// Kind returns "passthrough:<agent-type>".
func (p *Passthrough) Kind() string {
	return "passthrough:" + p.agentType
}

// Execute records the command and reports success.
func (p *Passthrough) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	p.mu.Unlock()

	return &Result{
		ExitCode: 0,
		Stdout:   fmt.Sprintf("[passthrough %s] %s\n", p.agentType, cmd.Script),
		Success:  true,
	}, nil
}

// Commands returns a copy of the commands recorded so far.
func (p *Passthrough) Commands() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Command, len(p.commands))
	copy(out, p.commands)
	return out
}
