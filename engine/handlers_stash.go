// ABOUTME: Stash and unstash handlers: save named file sets from the workspace and
// ABOUTME: restore them later, typically across stages running on different agents.
package engine

import (
	"context"
	"fmt"

	"github.com/2389-research/conveyor/pipeline"
)

// StashHandler saves workspace files matching include/exclude patterns under
// a name for later retrieval with unstash.
type StashHandler struct {
	noPrepareCleanup
}

// Kind returns the stash step kind.
func (h *StashHandler) Kind() pipeline.StepKind { return pipeline.KindStash }

// Validate requires a stash name, at least one include pattern, and a
// configured stash storage backend.
func (h *StashHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if step.StashName == "" {
		errs = append(errs, ValidationError{
			Field:   "stash_name",
			Message: "stash step requires a name",
			Code:    "stash.name.empty",
		})
	}
	if len(step.Includes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "includes",
			Message: "stash step requires at least one include pattern",
			Code:    "stash.includes.empty",
		})
	}
	if ectx.Stash == nil {
		errs = append(errs, ValidationError{
			Field:   "stash",
			Message: "no stash storage configured",
			Code:    "stash.storage.missing",
		})
	}
	return errs
}

// Execute stashes matching files. Patterns are resolved against the
// workspace root, not the current Dir scope, so a stash inside a Dir step
// captures the same paths an outer stash would.
func (h *StashHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sr, err := ectx.Stash.Stash(step.StashName, ectx.WorkspaceRoot, step.Includes, step.Excludes)
	if err != nil {
		return nil, fmt.Errorf("stashing %q: %w", step.StashName, err)
	}

	ectx.Logf("[stash] saved %d file(s) as %q (%d bytes)", sr.FileCount, sr.Name, sr.TotalSize)

	result := NewStepResult(step, StatusSuccess)
	result.setMeta("stash_name", sr.Name)
	result.setMeta("stashed_files", sr.StashedFiles)
	result.setMeta("file_count", sr.FileCount)
	result.setMeta("total_size", sr.TotalSize)
	result.setMeta("location", sr.Location)
	result.Output = fmt.Sprintf("stashed %d file(s) as %q", sr.FileCount, sr.Name)
	return result, nil
}

// UnstashHandler restores a previously stashed file set into the current
// working directory.
type UnstashHandler struct {
	noPrepareCleanup
}

// Kind returns the unstash step kind.
func (h *UnstashHandler) Kind() pipeline.StepKind { return pipeline.KindUnstash }

// Validate requires a stash name and a configured stash storage backend.
func (h *UnstashHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if step.StashName == "" {
		errs = append(errs, ValidationError{
			Field:   "stash_name",
			Message: "unstash step requires a name",
			Code:    "unstash.name.empty",
		})
	}
	if ectx.Stash == nil {
		errs = append(errs, ValidationError{
			Field:   "stash",
			Message: "no stash storage configured",
			Code:    "unstash.storage.missing",
		})
	}
	return errs
}

// Execute restores the named stash into the workspace root. An unknown name
// is an execution failure.
func (h *UnstashHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ur, err := ectx.Stash.Unstash(step.StashName, ectx.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("unstashing %q: %w", step.StashName, err)
	}

	ectx.Logf("[unstash] restored %d file(s) from %q", ur.FileCount, ur.Name)

	result := NewStepResult(step, StatusSuccess)
	result.setMeta("stash_name", ur.Name)
	result.setMeta("restored_files", ur.RestoredFiles)
	result.setMeta("file_count", ur.FileCount)
	result.Output = fmt.Sprintf("restored %d file(s) from %q", ur.FileCount, ur.Name)
	return result, nil
}
