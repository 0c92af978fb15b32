// ABOUTME: CLI entrypoint for the conveyor pipeline runner with run and validate modes.
// ABOUTME: Wires together config loading, the execution engine, event logging, and signal handling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389-research/conveyor/config"
	"github.com/2389-research/conveyor/engine"
	"github.com/2389-research/conveyor/pipeline"
	"github.com/2389-research/conveyor/stash"
)

var version = "dev"

// cliConfig holds all CLI configuration parsed from flags and positional
// arguments.
type cliConfig struct {
	configPath   string
	validateOnly bool
	workspace    string
	artifactDir  string
	jobName      string
	buildNumber  int
	gitBranch    string
	gitCommit    string
	verbose      bool
	showVersion  bool
	pipelineFile string
}

func main() {
	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("conveyor %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
func parseFlags() cliConfig {
	var cfg cliConfig

	fs := flag.NewFlagSet("conveyor", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", config.DefaultConfigPath(), "Path to config file")
	fs.BoolVar(&cfg.validateOnly, "validate", false, "Validate pipeline without executing")
	fs.StringVar(&cfg.workspace, "workspace", "", "Workspace directory (default: current directory)")
	fs.StringVar(&cfg.artifactDir, "artifact-dir", "", "Directory for archived artifacts")
	fs.StringVar(&cfg.jobName, "job", "", "Job name injected as JOB_NAME")
	fs.IntVar(&cfg.buildNumber, "build", 0, "Build number injected as BUILD_NUMBER")
	fs.StringVar(&cfg.gitBranch, "branch", "", "Git branch injected as GIT_BRANCH")
	fs.StringVar(&cfg.gitCommit, "commit", "", "Git commit injected as GIT_COMMIT")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: conveyor [options] <pipeline.yaml>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.pipelineFile = fs.Arg(0)
	}

	return cfg
}

// run dispatches to the appropriate mode based on the config.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg cliConfig) int {
	if cfg.pipelineFile == "" {
		fmt.Fprintln(os.Stderr, "error: pipeline file required (use conveyor <pipeline.yaml>)")
		return 1
	}

	p, err := pipeline.LoadFile(cfg.pipelineFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if cfg.validateOnly {
		return validatePipeline(p)
	}

	return runPipeline(cfg, p)
}

// validatePipeline lints the pipeline and prints diagnostics.
func validatePipeline(p *pipeline.Pipeline) int {
	diags, err := pipeline.ValidateOrError(p)
	for _, d := range diags {
		printDiagnostic(d)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println("pipeline is valid")
	return 0
}

// printDiagnostic writes one validation finding to stdout.
func printDiagnostic(d pipeline.Diagnostic) {
	loc := d.Stage
	if d.StepPath != "" {
		loc = d.StepPath
	}
	if loc != "" {
		fmt.Printf("%s [%s] %s: %s\n", d.Severity, d.Rule, loc, d.Message)
	} else {
		fmt.Printf("%s [%s] %s\n", d.Severity, d.Rule, d.Message)
	}
	if d.Fix != "" {
		fmt.Printf("  fix: %s\n", d.Fix)
	}
}

// runPipeline executes the pipeline through the engine, streaming events to
// stdout and the JSONL event log.
func runPipeline(cfg cliConfig, p *pipeline.Pipeline) int {
	fileCfg, err := config.LoadFrom(cfg.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if _, err := pipeline.ValidateOrError(p); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	workspace := cfg.workspace
	if workspace == "" {
		workspace = fileCfg.WorkspaceDir
	}
	if workspace == "" {
		workspace, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	artifactDir := cfg.artifactDir
	if artifactDir == "" {
		artifactDir = fileCfg.ArtifactDir
	}

	bus := engine.NewEventBus()
	if cfg.verbose {
		bus.Subscribe(printEvent)
	}

	var sink *engine.JSONLSink
	if fileCfg.EventLogDir != "" {
		sink, err = engine.NewJSONLSink(fileCfg.EventLogDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer sink.Close()
		bus.Subscribe(sink.Append)
	}

	var stashStore stash.Storage
	if fileCfg.StashDir != "" {
		stashStore = stash.NewFSStore(fileCfg.StashDir)
	}

	ft := fileCfg.FaultTolerance
	executor := engine.NewPipelineExecutor(engine.Config{
		Stash:              stashStore,
		Events:             bus,
		WorkspaceRoot:      workspace,
		ArtifactDir:        artifactDir,
		DefaultStepTimeout: fileCfg.StepTimeoutOrDefault(),
		FailFast:           fileCfg.FailFastOrDefault(),
		Resilience: engine.ResilienceConfig{
			BulkheadLimit:       ft.BulkheadLimit,
			BreakerThreshold:    ft.BreakerThreshold,
			BreakerRetryTimeout: ft.BreakerRetryTimeoutOrDefault(),
			Retry:               retryFromConfig(ft),
		},
		Job: engine.JobInfo{
			Name:        cfg.jobName,
			BuildNumber: cfg.buildNumber,
			GitBranch:   cfg.gitBranch,
			GitCommit:   cfg.gitCommit,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := executor.Execute(ctx, p)
	printSummary(result)

	if err != nil {
		fmt.Fprintf(os.Stderr, "pipeline interrupted: %v\n", err)
		return 1
	}
	if result.Status != engine.StatusSuccess && result.Status != engine.StatusPartialSuccess {
		return 1
	}
	return 0
}

// retryFromConfig builds the retry policy described by the fault-tolerance
// config, or nil when retries are disabled.
func retryFromConfig(ft config.FaultToleranceConfig) *engine.RetryPolicy {
	if ft.RetryMaxAttempts <= 0 {
		return nil
	}
	p := engine.DefaultRetryPolicy()
	p.MaxAttempts = ft.RetryMaxAttempts
	p.BaseDelay = ft.RetryBaseDelayOrDefault()
	p.MaxDelay = ft.RetryMaxDelayOrDefault()
	return p
}

// printEvent writes one lifecycle event to stdout.
func printEvent(evt engine.Event) {
	switch {
	case evt.Step != "":
		fmt.Printf("[%s] %s %s\n", evt.Type, evt.Stage, evt.Step)
	case evt.Stage != "":
		fmt.Printf("[%s] %s\n", evt.Type, evt.Stage)
	default:
		fmt.Printf("[%s]\n", evt.Type)
	}
}

// printSummary writes the per-stage outcome table to stdout.
func printSummary(result *engine.PipelineResult) {
	if result == nil {
		return
	}
	fmt.Printf("\npipeline %s: %s (%s)\n", result.PipelineName, result.Status, result.Duration.Round(time.Millisecond))
	for _, st := range result.Stages {
		fmt.Printf("  stage %-20s %s (%d step(s), %s)\n", st.StageName, st.Status, len(st.Steps), st.Duration.Round(time.Millisecond))
		if st.Error != nil {
			fmt.Printf("    error: %v\n", st.Error)
		}
	}
}
