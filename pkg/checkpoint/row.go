// Package checkpoint implements the append-only CSV row log that is
// both the crash-recovery journal and the canonical persisted output of
// an evaluation run.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/qym-labs/qym/pkg/score"
)

// Sentinel errors.
var (
	// ErrHeaderMismatch is returned when an existing checkpoint's header
	// disagrees with the current metrics list.
	ErrHeaderMismatch = errors.New("checkpoint header mismatch")

	// ErrMalformedRow is returned when a row has the wrong column count.
	ErrMalformedRow = errors.New("malformed checkpoint row")

	// ErrNoHeader is returned when a checkpoint file has no header row.
	ErrNoHeader = errors.New("checkpoint file has no header")
)

// Column naming.
const (
	scoreSuffix = "_score"
	metaSuffix  = "__meta__json"
	errorPrefix = "ERROR: "
	notScored   = "N/A"
)

// baseColumns is the fixed leading header, in order. Metric columns
// follow, two per metric.
var baseColumns = []string{
	"dataset_name",
	"run_name",
	"run_metadata",
	"run_config",
	"trace_id",
	"item_id",
	"input",
	"item_metadata",
	"output",
	"expected_output",
	"time",
	"task_started_at_ms",
}

// Row is the on-disk representation of one attempted item.
type Row struct {
	DatasetName     string
	RunName         string
	RunMetadata     map[string]any
	RunConfig       map[string]any
	TraceID         string
	ItemID          string
	Input           any
	ItemMetadata    map[string]any
	Output          any
	Expected        any
	TimeSeconds     float64
	TaskStartedAtMS int64

	// Scores holds the per-metric scores for success rows.
	Scores map[string]score.Score

	// Err is the error message for error rows. When set, the output
	// cell carries "ERROR: <message>" and every score cell "N/A".
	Err string
}

// IsError reports whether this is an error row.
func (r Row) IsError() bool {
	return r.Err != ""
}

// Header builds the fixed column header for a metrics list, preserving
// metric declaration order.
func Header(metrics []string) []string {
	header := make([]string, 0, len(baseColumns)+2*len(metrics))
	header = append(header, baseColumns...)

	for _, name := range metrics {
		header = append(header, name+scoreSuffix, name+metaSuffix)
	}

	return header
}

// MetricsFromHeader recovers metric names from a header: columns ending
// "_score", excluding the "__meta__" companions. Order follows the
// header.
func MetricsFromHeader(header []string) []string {
	var metrics []string

	for _, col := range header {
		if !strings.HasSuffix(col, scoreSuffix) {
			continue
		}

		if strings.Contains(col, "__meta__") {
			continue
		}

		metrics = append(metrics, strings.TrimSuffix(col, scoreSuffix))
	}

	return metrics
}

// Record serializes the row into CSV cells matching Header(metrics).
func (r Row) Record(metrics []string) ([]string, error) {
	runMeta, err := jsonCell(r.RunMetadata)
	if err != nil {
		return nil, fmt.Errorf("run metadata: %w", err)
	}

	runConfig, err := jsonCell(r.RunConfig)
	if err != nil {
		return nil, fmt.Errorf("run config: %w", err)
	}

	itemMeta, err := jsonCell(r.ItemMetadata)
	if err != nil {
		return nil, fmt.Errorf("item metadata: %w", err)
	}

	output := valueCell(r.Output)
	if r.Err != "" {
		output = errorPrefix + r.Err
	}

	record := []string{
		r.DatasetName,
		r.RunName,
		runMeta,
		runConfig,
		r.TraceID,
		r.ItemID,
		valueCell(r.Input),
		itemMeta,
		output,
		valueCell(r.Expected),
		strconv.FormatFloat(r.TimeSeconds, 'f', -1, 64),
		strconv.FormatInt(r.TaskStartedAtMS, 10),
	}

	for _, name := range metrics {
		scoreCell, metaCell, err := r.scoreCells(name)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", name, err)
		}

		record = append(record, scoreCell, metaCell)
	}

	return record, nil
}

func (r Row) scoreCells(metricName string) (scoreCell, metaCell string, err error) {
	if r.Err != "" {
		return notScored, "", nil
	}

	s, found := r.Scores[metricName]
	if !found {
		// Unknown metric scores serialize as empty.
		return "", "", nil
	}

	metaCell, err = s.MetaJSON()
	if err != nil {
		return "", "", err
	}

	return s.CellValue(), metaCell, nil
}

// ParseRow restores a Row from its CSV cells given the file header.
func ParseRow(header, record []string) (Row, error) {
	if len(record) != len(header) {
		return Row{}, fmt.Errorf("%w: %d cells for %d columns", ErrMalformedRow, len(record), len(header))
	}

	metrics := MetricsFromHeader(header)

	row := Row{
		DatasetName:  record[0],
		RunName:      record[1],
		RunMetadata:  parseJSONMap(record[2]),
		RunConfig:    parseJSONMap(record[3]),
		TraceID:      record[4],
		ItemID:       record[5],
		Input:        parseValueCell(record[6]),
		ItemMetadata: parseJSONMap(record[7]),
		Expected:     parseValueCell(record[9]),
	}

	row.TimeSeconds, _ = strconv.ParseFloat(record[10], 64)
	row.TaskStartedAtMS, _ = strconv.ParseInt(record[11], 10, 64)

	output := record[8]
	if IsErrorRecord(header, record) {
		msg, hadPrefix := strings.CutPrefix(output, errorPrefix)
		if !hadPrefix {
			// Classified by score cells alone; keep whatever the
			// output cell carried as the message.
			msg = output
		}

		if msg == "" {
			msg = "unknown error"
		}

		row.Err = msg

		return row, nil
	}

	row.Output = parseValueCell(output)
	row.Scores = make(map[string]score.Score, len(metrics))

	for i, name := range metrics {
		scoreCell := record[len(baseColumns)+2*i]
		metaCell := record[len(baseColumns)+2*i+1]

		if s, ok := score.ParseCell(scoreCell, metaCell); ok {
			row.Scores[name] = s
		}
	}

	return row, nil
}

// IsErrorRecord classifies a raw record without fully parsing it: a row
// is an error row iff its output starts with "ERROR:" or the first
// metric's score cell contains "ERROR" or is "N/A" with no meta
// companion. A metric-level error score also renders "N/A", but carries
// its message in the meta cell, so it does not count.
func IsErrorRecord(header, record []string) bool {
	if len(record) < len(baseColumns) {
		return false
	}

	if strings.HasPrefix(record[8], "ERROR:") {
		return true
	}

	if len(record) < len(baseColumns)+2 {
		return false
	}

	firstScore := record[len(baseColumns)]
	firstMeta := record[len(baseColumns)+1]

	if firstMeta != "" {
		return false
	}

	return strings.Contains(firstScore, "ERROR") || firstScore == notScored
}

// jsonCell renders a mapping as JSON, empty maps as "{}".
func jsonCell(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal json cell: %w", err)
	}

	return string(data), nil
}

func parseJSONMap(cell string) map[string]any {
	if cell == "" {
		return map[string]any{}
	}

	var m map[string]any

	err := json.Unmarshal([]byte(cell), &m)
	if err != nil {
		return map[string]any{}
	}

	return m
}

// valueCell renders an arbitrary value: strings verbatim, everything
// else as JSON.
func valueCell(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	return string(data)
}

// parseValueCell restores a value cell: JSON objects and arrays decode,
// everything else stays a string.
func parseValueCell(cell string) any {
	if cell == "" {
		return nil
	}

	trimmed := strings.TrimSpace(cell)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return cell
	}

	var decoded any

	err := json.Unmarshal([]byte(trimmed), &decoded)
	if err != nil {
		return cell
	}

	return decoded
}
