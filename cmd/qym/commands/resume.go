package commands

import (
	"github.com/spf13/cobra"
)

// ResumeCommand holds the flags for the resume command. It shares the
// run command's execution path and adds the checkpoint to resume from.
type ResumeCommand struct {
	run  RunCommand
	from string
}

// NewResumeCommand creates and configures the resume command.
func NewResumeCommand() *cobra.Command {
	cmd := &ResumeCommand{}

	cobraCmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue an interrupted run from its checkpoint",
		Long: `Resume replays a checkpoint CSV into memory, skips every item it
already covers, and evaluates only the remainder. The dataset and
metrics must match the ones the checkpoint was written with.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVar(&cmd.from, "from", "", "Checkpoint CSV to resume from")
	cobraCmd.Flags().StringVarP(&cmd.run.configPath, "config", "c", "", "Config file (default: ./qym.yaml)")
	cobraCmd.Flags().StringVarP(&cmd.run.datasetPath, "dataset", "d", "", "Dataset file (JSON or YAML)")
	cobraCmd.Flags().StringVar(&cmd.run.datasetName, "dataset-name", "", "Dataset name override")
	cobraCmd.Flags().StringVarP(&cmd.run.name, "name", "n", "", "Evaluation name (default: dataset name)")
	cobraCmd.Flags().StringSliceVarP(&cmd.run.metricNames, "metrics", "m", []string{"exact_match"}, "Metrics to score (comma-separated)")
	cobraCmd.Flags().StringVar(&cmd.run.model, "model", "", "Model string, provider prefix included")
	cobraCmd.Flags().StringVar(&cmd.run.taskEndpoint, "task-endpoint", "", "HTTP task endpoint (default: echo task)")
	cobraCmd.Flags().StringVarP(&cmd.run.outputDir, "output-dir", "o", "", "Base directory for results")
	cobraCmd.Flags().IntVar(&cmd.run.concurrency, "max-concurrency", 0, "Worker pool size")
	cobraCmd.Flags().IntVar(&cmd.run.timeout, "timeout", 0, "Per-item timeout in seconds")
	cobraCmd.Flags().BoolVar(&cmd.run.saveJSON, "save-json", false, "Also export full results as JSON")
	cobraCmd.Flags().BoolVar(&cmd.run.compress, "compress", false, "Compress the JSON export with lz4")
	cobraCmd.Flags().StringVar(&cmd.run.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address")
	cobraCmd.Flags().BoolVar(&cmd.run.noDashboard, "no-dashboard", false, "Disable the terminal dashboard")

	_ = cobraCmd.MarkFlagRequired("from")
	_ = cobraCmd.MarkFlagRequired("dataset")

	return cobraCmd
}

// Run executes the resume command through the run command's path with
// the checkpoint path wired into the configuration.
func (c *ResumeCommand) Run(cobraCmd *cobra.Command, args []string) error {
	c.run.resumeFrom = c.from

	return c.run.Run(cobraCmd, args)
}
