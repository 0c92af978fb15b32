// ABOUTME: WithEnv handler: overlays KEY=VALUE entries onto a copied context for its nested steps.
// ABOUTME: Entry format errors are validation errors; sensitive values are masked in diagnostic logging.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389-research/conveyor/pipeline"
)

// WithEnvHandler scopes nested steps to an extended environment.
type WithEnvHandler struct {
	noPrepareCleanup
}

// Kind returns the with_env step kind.
func (h *WithEnvHandler) Kind() pipeline.StepKind { return pipeline.KindWithEnv }

// Validate rejects malformed KEY=VALUE entries and an empty nested-step
// list. Format problems are contract violations, not execution errors.
func (h *WithEnvHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	for i, entry := range step.Env {
		if _, _, err := splitEnvEntry(entry); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("env[%d]", i),
				Message: err.Error(),
				Code:    "with_env.entry.malformed",
			})
		}
	}
	if len(step.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "with_env step requires at least one nested step",
			Code:    "with_env.steps.empty",
		})
	}
	return errs
}

// Execute merges the entries over the current environment into a copied
// context and runs the nested steps sequentially, stopping on first failure.
func (h *WithEnvHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	overlay := make(map[string]string, len(step.Env))
	for _, entry := range step.Env {
		key, value, err := splitEnvEntry(entry)
		if err != nil {
			// Validation catches this before execute; guard anyway.
			return nil, err
		}
		overlay[key] = value
	}

	for _, key := range sortedKeys(overlay) {
		ectx.Logf("[with_env] %s=%s", key, MaskValue(key, overlay[key]))
	}

	child := ectx.WithEnv(overlay)
	results, err := runSequence(ctx, step.Steps, child)
	if err != nil {
		return nil, err
	}

	result := wrapNestedOutcome(step, results)
	result.setMeta("env_keys", sortedKeys(overlay))
	return result, nil
}

// splitEnvEntry parses one KEY=VALUE entry. The key must be non-empty; the
// value may be empty.
func splitEnvEntry(entry string) (string, string, error) {
	idx := strings.Index(entry, "=")
	if idx < 0 {
		return "", "", fmt.Errorf("entry %q is not in KEY=VALUE format", entry)
	}
	key := strings.TrimSpace(entry[:idx])
	if key == "" {
		return "", "", fmt.Errorf("entry %q has an empty key", entry)
	}
	return key, entry[idx+1:], nil
}
