// ABOUTME: Shared helpers for step handlers: sequential nested-step execution and failure surfacing.
// ABOUTME: Nested steps always go back through the StepExecutor dispatch point, never around it.
package engine

import (
	"context"
	"fmt"

	"github.com/2389-research/conveyor/pipeline"
)

// runSequence executes steps in declaration order through the context's step
// executor, stopping at the first step whose result is not a pass (unless
// the step is marked ContinueOnError). A non-nil error is a cancellation
// signal from below and must propagate unchanged.
func runSequence(ctx context.Context, steps []pipeline.Step, ectx *ExecutionContext) ([]*StepResult, error) {
	results := make([]*StepResult, 0, len(steps))

	for _, st := range steps {
		res, err := ectx.Executor.Execute(ctx, st, ectx)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
		if !res.Status.Passed() && !st.ContinueOnError {
			break
		}
	}

	return results, nil
}

// firstFailure returns the first result that is not a pass, or nil when
// every step passed.
func firstFailure(results []*StepResult) *StepResult {
	for _, r := range results {
		if !r.Status.Passed() {
			return r
		}
	}
	return nil
}

// wrapNestedOutcome builds the wrapper step's result from its nested-step
// results: the first failure's status and error surface as the wrapper's
// own, and all nested results are preserved in metadata.
func wrapNestedOutcome(step pipeline.Step, results []*StepResult) *StepResult {
	var result *StepResult
	if failing := firstFailure(results); failing != nil {
		result = NewStepResult(step, failing.Status)
		result.Error = failing.Error
		if result.Error == nil {
			result.Error = fmt.Errorf("nested step %q finished with status %s", failing.StepName, failing.Status)
		}
	} else {
		result = NewStepResult(step, StatusSuccess)
	}
	result.setMeta("steps", results)
	return result
}
