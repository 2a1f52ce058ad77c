// Package commands implements the qym CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qym-labs/qym/pkg/config"
	"github.com/qym-labs/qym/pkg/dataset"
	"github.com/qym-labs/qym/pkg/eval"
	"github.com/qym-labs/qym/pkg/metric"
	"github.com/qym-labs/qym/pkg/observability"
	"github.com/qym-labs/qym/pkg/observer"
	"github.com/qym-labs/qym/pkg/platform"
	"github.com/qym-labs/qym/pkg/run"
	"github.com/qym-labs/qym/pkg/task"
	"github.com/qym-labs/qym/pkg/version"
)

// RunCommand holds the flags for the run command.
type RunCommand struct {
	configPath   string
	datasetPath  string
	datasetName  string
	name         string
	runName      string
	metricNames  []string
	model        string
	models       []string
	taskEndpoint string
	outputDir    string
	concurrency  int
	timeout      int
	saveJSON     bool
	saveCSV      bool
	compress     bool
	otlpEndpoint string
	noDashboard  bool
	resumeFrom   string
}

// NewRunCommand creates and configures the run command.
func NewRunCommand() *cobra.Command {
	cmd := &RunCommand{}

	cobraCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a dataset and write results",
		Long: `Run evaluates every dataset item through the task, scores it with
the requested metrics, and appends each outcome to a checkpoint CSV.
Interrupting with Ctrl-C keeps partial progress resumable.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.configPath, "config", "c", "", "Config file (default: ./qym.yaml)")
	cobraCmd.Flags().StringVarP(&cmd.datasetPath, "dataset", "d", "", "Dataset file (JSON or YAML)")
	cobraCmd.Flags().StringVar(&cmd.datasetName, "dataset-name", "", "Dataset name override")
	cobraCmd.Flags().StringVarP(&cmd.name, "name", "n", "", "Evaluation name (default: dataset name)")
	cobraCmd.Flags().StringVar(&cmd.runName, "run-name", "", "Run id override, used verbatim")
	cobraCmd.Flags().StringSliceVarP(&cmd.metricNames, "metrics", "m", []string{"exact_match"}, "Metrics to score (comma-separated)")
	cobraCmd.Flags().StringVar(&cmd.model, "model", "", "Model string, provider prefix included")
	cobraCmd.Flags().StringSliceVar(&cmd.models, "models", nil, "Models for multi-run fan-out")
	cobraCmd.Flags().StringVar(&cmd.taskEndpoint, "task-endpoint", "", "HTTP task endpoint (default: echo task)")
	cobraCmd.Flags().StringVarP(&cmd.outputDir, "output-dir", "o", "", "Base directory for results")
	cobraCmd.Flags().IntVar(&cmd.concurrency, "max-concurrency", 0, "Worker pool size")
	cobraCmd.Flags().IntVar(&cmd.timeout, "timeout", 0, "Per-item timeout in seconds")
	cobraCmd.Flags().BoolVar(&cmd.saveJSON, "save-json", false, "Also export full results as JSON")
	cobraCmd.Flags().BoolVar(&cmd.saveCSV, "save-csv", false, "Also export results as a standalone CSV")
	cobraCmd.Flags().BoolVar(&cmd.compress, "compress", false, "Compress the JSON export with lz4")
	cobraCmd.Flags().StringVar(&cmd.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address")
	cobraCmd.Flags().BoolVar(&cmd.noDashboard, "no-dashboard", false, "Disable the terminal dashboard")

	_ = cobraCmd.MarkFlagRequired("dataset")

	return cobraCmd
}

// Run executes the run command.
func (c *RunCommand) Run(cobraCmd *cobra.Command, _ []string) error {
	cfg, cfgErr := c.loadConfig()
	if cfgErr != nil {
		return cfgErr
	}

	providers, obsErr := observability.Init(observability.Config{
		ServiceName:    "qym",
		ServiceVersion: version.Version,
		OTLPEndpoint:   c.otlpEndpoint,
		LogLevel:       logLevel(cfg.Logging.Level),
		LogJSON:        cfg.Logging.Format == "json",
		LogStdout:      cfg.Logging.Output == "stdout",
	})
	if obsErr != nil {
		return fmt.Errorf("init observability: %w", obsErr)
	}

	defer func() { _ = providers.Shutdown(context.Background()) }()

	states, runErr := c.execute(cobraCmd.Context(), cfg, providers)
	if runErr != nil {
		return runErr
	}

	if c.saveJSON || c.saveCSV {
		saveErr := saveSnapshots(cfg.Run.OutputDir, states, c.saveJSON, c.saveCSV, c.compress)
		if saveErr != nil {
			return saveErr
		}
	}

	return nil
}

func (c *RunCommand) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}

	// Flags override file and environment.
	if c.model != "" {
		cfg.Run.Model = c.model
		cfg.Run.Models = nil
	}

	if len(c.models) > 0 {
		cfg.Run.Models = c.models
		cfg.Run.Model = ""
	}

	if c.outputDir != "" {
		cfg.Run.OutputDir = c.outputDir
	}

	if c.concurrency > 0 {
		cfg.Run.MaxConcurrency = c.concurrency
	}

	if c.timeout > 0 {
		cfg.Run.TimeoutSeconds = c.timeout
	}

	if c.runName != "" {
		cfg.Run.RunName = c.runName
	}

	if c.resumeFrom != "" {
		cfg.Checkpoint.ResumeFrom = c.resumeFrom
	}

	return cfg, nil
}

func (c *RunCommand) execute(ctx context.Context, cfg *config.Config, providers observability.Providers) ([]*run.State, error) {
	source, sourceErr := dataset.NewFile(c.datasetPath, c.datasetName)
	if sourceErr != nil {
		return nil, fmt.Errorf("open dataset: %w", sourceErr)
	}

	registry := metric.NewRegistry()

	metrics, resolveErr := registry.Resolve(c.metricNames)
	if resolveErr != nil {
		return nil, resolveErr
	}

	adapter, taskErr := buildTask(c.taskEndpoint)
	if taskErr != nil {
		return nil, taskErr
	}

	defer func() { _ = adapter.Close() }()

	runMetrics, rmErr := observability.NewRunMetrics(providers.Meter)
	if rmErr != nil {
		return nil, rmErr
	}

	base := eval.RunSpec{
		Name:    c.name,
		Task:    adapter,
		Dataset: source,
		Metrics: metrics,
		RunName: cfg.Run.RunName,
	}

	models := cfg.ModelList()
	specs := eval.FanOut(base, models)

	// Dashboards and platform streams hold per-run state, so each
	// sub-run gets its own.
	for i := range specs {
		if !c.noDashboard {
			specs[i].Observers = append(specs[i].Observers, observer.NewDashboard(os.Stderr))
		}

		if cfg.Platform.URL != "" {
			runLabel := specs[i].Name
			if runLabel == "" {
				runLabel = source.Name()
			}

			if specs[i].Model != "" {
				runLabel += "/" + specs[i].Model
			}

			specs[i].Stream = platform.NewStream(cfg.Platform.URL, cfg.Platform.APIKey,
				platform.WithLogger(providers.Logger),
				platform.WithDropHook(func(string) {
					runMetrics.RecordQueueDrop(context.Background(), runLabel)
				}))
		}
	}

	runner := eval.NewRunner(cfg,
		eval.WithRunnerLogger(providers.Logger),
		eval.WithRunnerTracer(providers.Tracer),
		eval.WithRunnerMetrics(runMetrics),
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.RunAll(runCtx, specs)
}

// buildTask selects the task shape: a remote HTTP task when an endpoint
// is configured, the identity echo task otherwise.
func buildTask(endpoint string) (task.Adapter, error) {
	if endpoint != "" {
		return task.New(newHTTPTask(endpoint))
	}

	return task.New(func(input any) any { return input }, task.WithParamNames("input"))
}

// logLevel maps the config level string onto slog severities. Unknown
// levels fall back to info.
func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// saveSnapshots exports each finished run next to the checkpoints: a
// JSON (optionally lz4) snapshot and/or a standalone CSV.
func saveSnapshots(outputDir string, states []*run.State, asJSON, asCSV, compress bool) error {
	var codec run.Codec = run.NewJSONCodec()
	if compress {
		codec = run.NewLZ4Codec()
	}

	for _, state := range states {
		if state == nil {
			continue
		}

		snap := state.Snapshot()

		if asJSON {
			path, saveErr := run.Save(outputDir, snap, codec)
			if saveErr != nil {
				return fmt.Errorf("save results for %s: %w", state.RunName(), saveErr)
			}

			fmt.Fprintf(os.Stderr, "results saved: %s\n", path)
		}

		if asCSV {
			path, saveErr := run.SaveCSV(outputDir, snap)
			if saveErr != nil {
				return fmt.Errorf("export csv for %s: %w", state.RunName(), saveErr)
			}

			fmt.Fprintf(os.Stderr, "results saved: %s\n", path)
		}
	}

	return nil
}
