// ABOUTME: Dir handler: executes nested steps against a copied context rooted at a resolved directory.
// ABOUTME: The directory is created if absent; a non-directory at the resolved path is an execution failure.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389-research/conveyor/pipeline"
)

// DirHandler scopes nested steps to a working directory.
type DirHandler struct {
	noPrepareCleanup
}

// Kind returns the dir step kind.
func (h *DirHandler) Kind() pipeline.StepKind { return pipeline.KindDir }

// Validate rejects an empty path and an empty nested-step list before any
// filesystem mutation occurs.
func (h *DirHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(step.Path) == "" {
		errs = append(errs, ValidationError{
			Field:   "path",
			Message: "dir step requires a non-empty path",
			Code:    "dir.path.empty",
		})
	}
	if len(step.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   "steps",
			Message: "dir step requires at least one nested step",
			Code:    "dir.steps.empty",
		})
	}
	return errs
}

// Execute resolves the path against the current working directory, ensures
// it exists as a directory, and runs the nested steps in a copied context.
// The first nested failure stops the sequence and surfaces upward.
func (h *DirHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	resolved := step.Path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(ectx.WorkDir, resolved)
	}

	if info, err := os.Stat(resolved); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("path %q exists but is not a directory", resolved)
		}
	} else if err := os.MkdirAll(resolved, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %q: %w", resolved, err)
	}

	child := ectx.WithWorkDir(resolved)
	results, err := runSequence(ctx, step.Steps, child)
	if err != nil {
		return nil, err
	}

	result := wrapNestedOutcome(step, results)
	result.setMeta("path", resolved)
	return result, nil
}
