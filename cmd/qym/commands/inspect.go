package commands

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/qym-labs/qym/pkg/checkpoint"
)

// InspectCommand holds the flags for the inspect command.
type InspectCommand struct {
	path    string
	asJSON  bool
	showErr bool
}

// NewInspectCommand creates and configures the inspect command.
func NewInspectCommand() *cobra.Command {
	cmd := &InspectCommand{}

	cobraCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize an existing checkpoint file",
		Long: `Inspect parses a checkpoint CSV and prints the run it records:
item counts, per-metric means, and optionally the error rows.`,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.path, "checkpoint", "f", "", "Checkpoint CSV to inspect")
	cobraCmd.Flags().BoolVar(&cmd.asJSON, "json", false, "Emit the summary as JSON")
	cobraCmd.Flags().BoolVar(&cmd.showErr, "errors", false, "List the error rows")

	_ = cobraCmd.MarkFlagRequired("checkpoint")

	return cobraCmd
}

// inspectSummary is the JSON shape of an inspected checkpoint.
type inspectSummary struct {
	Path        string             `json:"path"`
	RunName     string             `json:"run_name"`
	DatasetName string             `json:"dataset_name"`
	Metrics     []string           `json:"metrics"`
	Attempted   int                `json:"attempted"`
	Succeeded   int                `json:"succeeded"`
	Errored     int                `json:"errored"`
	MetricMeans map[string]float64 `json:"metric_means,omitempty"`
	Errors      map[string]string  `json:"errors,omitempty"`
}

// Run executes the inspect command.
func (c *InspectCommand) Run(_ *cobra.Command, _ []string) error {
	state, loadErr := checkpoint.Load(c.path)
	if loadErr != nil {
		return loadErr
	}

	summary := summarize(state)

	if !c.showErr {
		summary.Errors = nil
	}

	if c.asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		return encoder.Encode(summary)
	}

	renderSummary(os.Stdout, summary)

	return nil
}

func summarize(state *checkpoint.State) inspectSummary {
	summary := inspectSummary{
		Path:        state.Path,
		RunName:     state.RunName,
		DatasetName: state.DatasetName,
		Metrics:     state.Metrics,
		Attempted:   len(state.Rows),
		Errored:     len(state.Errored),
		MetricMeans: map[string]float64{},
		Errors:      map[string]string{},
	}

	summary.Succeeded = summary.Attempted - summary.Errored

	counts := map[string]int{}

	for _, row := range state.Rows {
		if row.IsError() {
			summary.Errors[row.ItemID] = row.Err

			continue
		}

		for name, s := range row.Scores {
			value, numeric := s.Value()
			if !numeric {
				continue
			}

			summary.MetricMeans[name] += value
			counts[name]++
		}
	}

	for name, count := range counts {
		summary.MetricMeans[name] /= float64(count)
	}

	return summary
}

func renderSummary(out *os.File, summary inspectSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle("checkpoint %s", summary.Path)

	t.AppendRow(table.Row{"run", summary.RunName})
	t.AppendRow(table.Row{"dataset", summary.DatasetName})
	t.AppendRow(table.Row{"attempted", summary.Attempted})
	t.AppendRow(table.Row{"succeeded", summary.Succeeded})
	t.AppendRow(table.Row{"errored", summary.Errored})

	for _, name := range sortedMetricNames(summary.MetricMeans) {
		t.AppendRow(table.Row{name + " (mean)", strconv.FormatFloat(summary.MetricMeans[name], 'f', 4, 64)})
	}

	t.Render()

	if len(summary.Errors) == 0 {
		return
	}

	errs := table.NewWriter()
	errs.SetOutputMirror(out)
	errs.SetStyle(table.StyleLight)
	errs.SetTitle("error rows")
	errs.AppendHeader(table.Row{"item", "error"})

	ids := make([]string, 0, len(summary.Errors))
	for id := range summary.Errors {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		errs.AppendRow(table.Row{id, summary.Errors[id]})
	}

	errs.Render()
}

func sortedMetricNames(means map[string]float64) []string {
	names := make([]string, 0, len(means))
	for name := range means {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
