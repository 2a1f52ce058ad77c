package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-labs/qym/pkg/score"
)

func TestHeader_MetricColumns(t *testing.T) {
	t.Parallel()

	header := Header([]string{"accuracy", "contains"})

	assert.Equal(t, "dataset_name", header[0])
	assert.Equal(t, "task_started_at_ms", header[11])
	assert.Equal(t, "accuracy_score", header[12])
	assert.Equal(t, "accuracy__meta__json", header[13])
	assert.Equal(t, "contains_score", header[14])
	assert.Equal(t, "contains__meta__json", header[15])
}

func TestMetricsFromHeader_RoundTrip(t *testing.T) {
	t.Parallel()

	metrics := []string{"b_metric", "a_metric"}
	recovered := MetricsFromHeader(Header(metrics))

	assert.Equal(t, metrics, recovered)
}

func TestMetricsFromHeader_IgnoresMetaColumns(t *testing.T) {
	t.Parallel()

	header := []string{"output", "acc_score", "acc__meta__json"}

	assert.Equal(t, []string{"acc"}, MetricsFromHeader(header))
}

func TestRow_RecordRoundTrip(t *testing.T) {
	t.Parallel()

	metrics := []string{"accuracy", "verdict"}
	row := Row{
		DatasetName:     "qa",
		RunName:         "qa-m1-260824-1504",
		RunMetadata:     map[string]any{"experiment": "baseline"},
		RunConfig:       map[string]any{"max_concurrency": float64(10)},
		TraceID:         "trace-1",
		ItemID:          "item-a",
		Input:           "what is up",
		ItemMetadata:    map[string]any{"difficulty": "easy"},
		Output:          "not much",
		Expected:        "not much",
		TimeSeconds:     1.25,
		TaskStartedAtMS: 1724500000000,
		Scores: map[string]score.Score{
			"accuracy": score.Number(0.5),
			"verdict":  score.Bool(true),
		},
	}

	record, err := row.Record(metrics)
	require.NoError(t, err)
	require.Len(t, record, len(Header(metrics)))

	parsed, err := ParseRow(Header(metrics), record)
	require.NoError(t, err)

	assert.Equal(t, row.DatasetName, parsed.DatasetName)
	assert.Equal(t, row.RunName, parsed.RunName)
	assert.Equal(t, row.RunMetadata, parsed.RunMetadata)
	assert.Equal(t, row.TraceID, parsed.TraceID)
	assert.Equal(t, row.ItemID, parsed.ItemID)
	assert.Equal(t, row.Input, parsed.Input)
	assert.Equal(t, row.Output, parsed.Output)
	assert.Equal(t, row.Expected, parsed.Expected)
	assert.InDelta(t, row.TimeSeconds, parsed.TimeSeconds, 1e-9)
	assert.Equal(t, row.TaskStartedAtMS, parsed.TaskStartedAtMS)
	assert.False(t, parsed.IsError())

	acc, _ := parsed.Scores["accuracy"].Value()
	assert.InDelta(t, 0.5, acc, 1e-9)

	verdict, _ := parsed.Scores["verdict"].Value()
	assert.InDelta(t, 1, verdict, 1e-9)
}

func TestRow_StructuredValuesRoundTrip(t *testing.T) {
	t.Parallel()

	metrics := []string{"m"}
	row := Row{
		DatasetName: "qa",
		RunName:     "r",
		ItemID:      "item-b",
		Input:       map[string]any{"question": "why"},
		Output:      []any{"a", "b"},
		Scores:      map[string]score.Score{"m": score.Number(1)},
	}

	record, err := row.Record(metrics)
	require.NoError(t, err)

	parsed, err := ParseRow(Header(metrics), record)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"question": "why"}, parsed.Input)
	assert.Equal(t, []any{"a", "b"}, parsed.Output)
}

func TestRow_ErrorRow(t *testing.T) {
	t.Parallel()

	metrics := []string{"accuracy"}
	row := Row{
		DatasetName: "qa",
		RunName:     "r",
		ItemID:      "item-c",
		Input:       "x",
		Err:         "task timed out after 30s",
	}

	record, err := row.Record(metrics)
	require.NoError(t, err)

	assert.Equal(t, "ERROR: task timed out after 30s", record[8])
	assert.Equal(t, "N/A", record[12])
	assert.True(t, IsErrorRecord(Header(metrics), record))

	parsed, err := ParseRow(Header(metrics), record)
	require.NoError(t, err)

	assert.True(t, parsed.IsError())
	assert.Equal(t, "task timed out after 30s", parsed.Err)
	assert.Nil(t, parsed.Output)
	assert.Empty(t, parsed.Scores)
}

func TestRow_ObjectScoreRoundTrip(t *testing.T) {
	t.Parallel()

	metrics := []string{"judge"}
	row := Row{
		DatasetName: "qa",
		RunName:     "r",
		ItemID:      "item-d",
		Scores: map[string]score.Score{
			"judge": score.FromObject(score.Object{
				Score:    0.75,
				Metadata: map[string]any{"rationale": "mostly right"},
			}),
		},
	}

	record, err := row.Record(metrics)
	require.NoError(t, err)

	parsed, err := ParseRow(Header(metrics), record)
	require.NoError(t, err)

	s := parsed.Scores["judge"]
	v, _ := s.Value()
	assert.InDelta(t, 0.75, v, 1e-9)
	assert.Equal(t, "mostly right", s.Metadata()["rationale"])
}

func TestParseRow_WrongCellCount(t *testing.T) {
	t.Parallel()

	_, err := ParseRow(Header(nil), []string{"short"})
	require.ErrorIs(t, err, ErrMalformedRow)
}

func TestIsErrorRecord_ScoreCellSignals(t *testing.T) {
	t.Parallel()

	header := Header([]string{"m"})

	success := Row{DatasetName: "d", RunName: "r", ItemID: "i", Scores: map[string]score.Score{"m": score.Number(1)}}
	record, err := success.Record([]string{"m"})
	require.NoError(t, err)
	assert.False(t, IsErrorRecord(header, record))

	record[12] = "N/A"
	assert.True(t, IsErrorRecord(header, record))
}
