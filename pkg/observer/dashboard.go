package observer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// errorDisplayLimit truncates error messages for the rendered view.
// Persisted messages are never truncated.
const errorDisplayLimit = 120

// Dashboard renders run progress to a terminal. It keeps only counters
// and the most recent failures; full results live in the run state.
type Dashboard struct {
	mu sync.Mutex

	out        io.Writer
	total      int
	completed  int
	failed     int
	startedAt  time.Time
	lastErrors []string
	liveURL    string
}

// NewDashboard creates a dashboard writing to out. A nil out defaults
// to stderr so progress never mixes with piped results.
func NewDashboard(out io.Writer) *Dashboard {
	if out == nil {
		out = os.Stderr
	}

	return &Dashboard{out: out}
}

// Observe implements Observer.
func (d *Dashboard) Observe(event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch event.Type {
	case RunStarted:
		d.startedAt = event.Time
		d.total = payloadInt(event.Payload, "total_items")

		fmt.Fprintf(d.out, "%s %s (%s items)\n",
			color.New(color.Bold).Sprint("run"),
			event.RunName,
			humanize.Comma(int64(d.total)))

	case ItemCompleted:
		d.completed++
		d.progressLine(event.RunName)

	case ItemFailed:
		d.failed++

		msg := payloadString(event.Payload, "error_message")
		if len(msg) > errorDisplayLimit {
			msg = msg[:errorDisplayLimit] + "..."
		}

		d.lastErrors = append(d.lastErrors, fmt.Sprintf("%s: %s", event.ItemID, msg))
		if len(d.lastErrors) > 5 {
			d.lastErrors = d.lastErrors[1:]
		}

		d.progressLine(event.RunName)

	case MetadataUpdate:
		if url := payloadString(event.Payload, "live_url"); url != "" {
			d.liveURL = url

			fmt.Fprintf(d.out, "live results: %s\n", color.CyanString(url))
		}

	case RunCompleted:
		d.renderSummary(event)

	case ItemStarted, MetricScored:
		// Too chatty for a terminal; counted via completion events.
	}

	return nil
}

func (d *Dashboard) progressLine(runName string) {
	attempted := d.completed + d.failed

	fmt.Fprintf(d.out, "[%s] %d/%d done, %s failed\n",
		runName,
		attempted,
		d.total,
		color.RedString("%d", d.failed))
}

func (d *Dashboard) renderSummary(event Event) {
	t := table.NewWriter()
	t.SetOutputMirror(d.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"run", "completed", "failed", "success rate", "elapsed"})

	attempted := d.completed + d.failed

	rate := "n/a"
	if attempted > 0 {
		rate = fmt.Sprintf("%.1f%%", 100*float64(d.completed)/float64(attempted))
	}

	elapsed := "n/a"
	if !d.startedAt.IsZero() {
		elapsed = humanize.RelTime(d.startedAt, event.Time, "", "")
	}

	t.AppendRow(table.Row{event.RunName, d.completed, d.failed, rate, elapsed})
	t.Render()

	if means, ok := event.Payload["metric_means"].(map[string]float64); ok && len(means) > 0 {
		mt := table.NewWriter()
		mt.SetOutputMirror(d.out)
		mt.SetStyle(table.StyleLight)
		mt.AppendHeader(table.Row{"metric", "mean"})
		mt.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

		for _, name := range sortedKeys(means) {
			mt.AppendRow(table.Row{name, fmt.Sprintf("%.4f", means[name])})
		}

		mt.Render()
	}

	for _, line := range d.lastErrors {
		fmt.Fprintln(d.out, color.RedString("  %s", line))
	}

	if d.liveURL != "" {
		fmt.Fprintf(d.out, "live results: %s\n", color.CyanString(d.liveURL))
	}
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)

	return s
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
