// ABOUTME: StepHandler strategy contract and the concurrent HandlerRegistry mapping step kinds to handlers.
// ABOUTME: The registry is an injected dependency, safe for concurrent reads during execution.
package engine

import (
	"context"
	"sync"

	"github.com/2389-research/conveyor/pipeline"
)

// StepHandler is the strategy implementation for one step kind. The step
// executor drives the validate → prepare → execute → cleanup lifecycle;
// handlers implement the phases, never the sequencing.
type StepHandler interface {
	// Kind returns the step kind this handler executes.
	Kind() pipeline.StepKind

	// Validate checks the step's pre-execution contract. It is pure: no
	// side effects, no filesystem mutation. A non-empty return
	// short-circuits the lifecycle to a VALIDATION_FAILED result.
	Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError

	// Prepare performs side-effecting setup before execution.
	Prepare(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) error

	// Execute performs the step's work and produces its result.
	Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error)

	// Cleanup runs best-effort after execution. Errors are logged and
	// never override the step's result.
	Cleanup(ctx context.Context, step pipeline.Step, ectx *ExecutionContext, result *StepResult) error
}

// noPrepareCleanup provides no-op Prepare and Cleanup phases for handlers
// that only need Execute.
type noPrepareCleanup struct{}

func (noPrepareCleanup) Prepare(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) error {
	return nil
}

func (noPrepareCleanup) Cleanup(ctx context.Context, step pipeline.Step, ectx *ExecutionContext, result *StepResult) error {
	return nil
}

// HandlerRegistry maps step kinds to handler instances. It is constructed
// and passed in rather than shared globally, so tests can register fakes
// without cross-test leakage. Reads and writes are safe concurrently.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[pipeline.StepKind]StepHandler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[pipeline.StepKind]StepHandler),
	}
}

// Register adds a handler keyed by its Kind. Registering an already-registered
// kind replaces the previous handler (last write wins).
func (r *HandlerRegistry) Register(handler StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handler.Kind()] = handler
}

// Lookup returns the handler for the given kind. A missing handler is a
// configuration error reported as *NoHandlerError.
func (r *HandlerRegistry) Lookup(kind pipeline.StepKind) (StepHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, &NoHandlerError{Kind: kind}
	}
	return h, nil
}

// HasHandler reports whether a handler is registered for the given kind.
func (r *HandlerRegistry) HasHandler(kind pipeline.StepKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

// Unregister removes the handler for the given kind, if any.
func (r *HandlerRegistry) Unregister(kind pipeline.StepKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// Kinds returns the registered step kinds.
func (r *HandlerRegistry) Kinds() []pipeline.StepKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]pipeline.StepKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// DefaultRegistry creates a registry with all built-in step handlers
// registered.
func DefaultRegistry() *HandlerRegistry {
	reg := NewHandlerRegistry()
	reg.Register(&ShellHandler{})
	reg.Register(&EchoHandler{})
	reg.Register(&DirHandler{})
	reg.Register(&WithEnvHandler{})
	reg.Register(&RetryHandler{})
	reg.Register(&TimeoutHandler{})
	reg.Register(&ParallelHandler{})
	reg.Register(&ArchiveArtifactsHandler{})
	reg.Register(&PublishTestResultsHandler{})
	reg.Register(&StashHandler{})
	reg.Register(&UnstashHandler{})
	return reg
}
