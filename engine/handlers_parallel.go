// ABOUTME: Parallel handler: named branches fan out to goroutines and join when all have completed.
// ABOUTME: Branch results are keyed by branch name; no branch is dropped, and all-success is required.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/2389-research/conveyor/pipeline"
)

// BranchResult holds the outcome of executing a single parallel branch.
type BranchResult struct {
	Branch  string
	Results []*StepResult
	Err     error // cancellation from within the branch
}

// Failed reports whether the branch failed, either with an error or with a
// non-passing step result.
func (b BranchResult) Failed() bool {
	return b.Err != nil || firstFailure(b.Results) != nil
}

// ParallelHandler executes each named branch's nested steps concurrently
// with every other branch. The step does not complete until all branches
// have completed (join semantics, not race-to-first).
type ParallelHandler struct {
	noPrepareCleanup
}

// Kind returns the parallel step kind.
func (h *ParallelHandler) Kind() pipeline.StepKind { return pipeline.KindParallel }

// Validate rejects zero branches or any branch with zero steps.
func (h *ParallelHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if len(step.Branches) == 0 {
		errs = append(errs, ValidationError{
			Field:   "branches",
			Message: "parallel step requires at least one branch",
			Code:    "parallel.branches.empty",
		})
		return errs
	}
	for _, name := range branchNames(step.Branches) {
		if len(step.Branches[name]) == 0 {
			errs = append(errs, ValidationError{
				Field:   "branches." + name,
				Message: fmt.Sprintf("branch %q has no steps", name),
				Code:    "parallel.branch.empty",
			})
		}
	}
	return errs
}

// Execute forks one goroutine per branch, each with its own copied context,
// and waits for every branch to finish. Cancellation propagates to all
// branches through the shared context; a branch failure does not cancel its
// siblings, so every branch's results are present in the step metadata.
func (h *ParallelHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	names := branchNames(step.Branches)
	branchResults := make([]BranchResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(idx int, branch string) {
			defer wg.Done()

			// Fork the context so branch env scoping stays isolated.
			child := ectx.WithEnv(map[string]string{"BRANCH_NAME": branch})
			results, err := runSequence(ctx, step.Branches[branch], child)
			branchResults[idx] = BranchResult{
				Branch:  branch,
				Results: results,
				Err:     err,
			}
		}(i, name)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byName := make(map[string][]*StepResult, len(branchResults))
	var failedBranches []string
	for _, br := range branchResults {
		byName[br.Branch] = br.Results
		if br.Failed() {
			failedBranches = append(failedBranches, br.Branch)
		}
	}

	result := NewStepResult(step, StatusSuccess)
	result.setMeta("branches", byName)

	if len(failedBranches) > 0 {
		sort.Strings(failedBranches)
		result.Status = StatusFailure
		result.Error = &StepExecutionError{
			Step: step.DisplayName(),
			Err:  fmt.Errorf("branch(es) failed: %s", strings.Join(failedBranches, ", ")),
		}
		result.setMeta("failed_branches", failedBranches)
	}

	return result, nil
}

// branchNames returns the branch names in sorted order for deterministic
// fan-out and reporting.
func branchNames(branches map[string][]pipeline.Step) []string {
	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
