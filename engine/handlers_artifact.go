// ABOUTME: Artifact handlers: archive_artifacts copies matching workspace files into the run's artifact dir,
// ABOUTME: and publish_test_results scans JUnit-style XML reports into result metadata.
package engine

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/2389-research/conveyor/pipeline"
	"github.com/2389-research/conveyor/stash"
)

// ArchiveArtifactsHandler copies workspace files matching glob patterns into
// the run's artifact directory, preserving relative structure.
type ArchiveArtifactsHandler struct {
	noPrepareCleanup
}

// Kind returns the archive_artifacts step kind.
func (h *ArchiveArtifactsHandler) Kind() pipeline.StepKind { return pipeline.KindArchiveArtifacts }

// Validate requires at least one pattern and a configured artifact directory.
func (h *ArchiveArtifactsHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	var errs []ValidationError
	if len(step.Patterns) == 0 {
		errs = append(errs, ValidationError{
			Field:   "patterns",
			Message: "archive_artifacts step requires at least one pattern",
			Code:    "archive.patterns.empty",
		})
	}
	if ectx.ArtifactDir == "" {
		errs = append(errs, ValidationError{
			Field:   "artifact_dir",
			Message: "no artifact directory configured",
			Code:    "archive.dir.missing",
		})
	}
	return errs
}

// Execute walks the workspace and copies every matching file.
func (h *ArchiveArtifactsHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	matches, err := matchWorkspace(ectx.WorkspaceRoot, step.Patterns, nil)
	if err != nil {
		return nil, err
	}

	destRoot := filepath.Join(ectx.ArtifactDir, ectx.ExecutionID)
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := filepath.Join(ectx.WorkspaceRoot, filepath.FromSlash(rel))
		dest := filepath.Join(destRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, fmt.Errorf("archiving %q: %w", rel, err)
		}
		if err := copyFile(src, dest); err != nil {
			return nil, fmt.Errorf("archiving %q: %w", rel, err)
		}
	}

	ectx.Logf("[archive] archived %d file(s) to %s", len(matches), destRoot)

	result := NewStepResult(step, StatusSuccess)
	result.setMeta("archived_files", matches)
	result.setMeta("artifact_dir", destRoot)
	result.Output = fmt.Sprintf("archived %d file(s)", len(matches))
	return result, nil
}

// junitSuite is the subset of a JUnit XML testsuite element the engine reads.
type junitSuite struct {
	XMLName  xml.Name     `xml:"testsuite"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

// junitSuites is the <testsuites> wrapper some report formats use.
type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

// PublishTestResultsHandler aggregates JUnit-style XML reports matching a
// glob pattern into result metadata.
type PublishTestResultsHandler struct {
	noPrepareCleanup
}

// Kind returns the publish_test_results step kind.
func (h *PublishTestResultsHandler) Kind() pipeline.StepKind {
	return pipeline.KindPublishTestResults
}

// Validate requires a non-empty report pattern.
func (h *PublishTestResultsHandler) Validate(step pipeline.Step, ectx *ExecutionContext) []ValidationError {
	if step.Pattern == "" {
		return []ValidationError{{
			Field:   "pattern",
			Message: "publish_test_results step requires a report pattern",
			Code:    "publish.pattern.empty",
		}}
	}
	return nil
}

// Execute parses every matching report and records aggregate counts. Missing
// reports are an execution failure; test failures are recorded, not fatal.
func (h *PublishTestResultsHandler) Execute(ctx context.Context, step pipeline.Step, ectx *ExecutionContext) (*StepResult, error) {
	matches, err := matchWorkspace(ectx.WorkspaceRoot, []string{step.Pattern}, nil)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no test reports matching %q", step.Pattern)
	}

	var tests, failures, skipped int
	for _, rel := range matches {
		data, readErr := os.ReadFile(filepath.Join(ectx.WorkspaceRoot, filepath.FromSlash(rel)))
		if readErr != nil {
			return nil, fmt.Errorf("reading report %q: %w", rel, readErr)
		}
		t, f, s, parseErr := parseJUnitReport(data)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing report %q: %w", rel, parseErr)
		}
		tests += t
		failures += f
		skipped += s
	}

	result := NewStepResult(step, StatusSuccess)
	result.setMeta("reports", matches)
	result.setMeta("tests", tests)
	result.setMeta("failures", failures)
	result.setMeta("skipped", skipped)
	result.Output = fmt.Sprintf("%d test(s), %d failure(s), %d skipped", tests, failures, skipped)
	return result, nil
}

// parseJUnitReport extracts test/failure/skip counts from a report that is
// either a single <testsuite> or a <testsuites> wrapper.
func parseJUnitReport(data []byte) (tests, failures, skipped int, err error) {
	var wrapper junitSuites
	if err := xml.Unmarshal(data, &wrapper); err == nil && len(wrapper.Suites) > 0 {
		for _, s := range wrapper.Suites {
			t, f, sk := sumSuite(s)
			tests += t
			failures += f
			skipped += sk
		}
		return tests, failures, skipped, nil
	}

	var suite junitSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return 0, 0, 0, err
	}
	tests, failures, skipped = sumSuite(suite)
	return tests, failures, skipped, nil
}

// sumSuite totals a suite's counts including nested suites.
func sumSuite(s junitSuite) (tests, failures, skipped int) {
	tests = s.Tests
	failures = s.Failures + s.Errors
	skipped = s.Skipped
	for _, nested := range s.Suites {
		t, f, sk := sumSuite(nested)
		tests += t
		failures += f
		skipped += sk
	}
	return tests, failures, skipped
}

// matchWorkspace walks the workspace tree and returns sorted relative paths
// matching the include patterns and not matching the excludes.
func matchWorkspace(root string, includes, excludes []string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if stash.MatchAny(includes, rel) && !stash.MatchAny(excludes, rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// copyFile copies src to dest, truncating any existing file.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
