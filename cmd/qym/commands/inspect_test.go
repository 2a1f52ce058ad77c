package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-labs/qym/pkg/checkpoint"
	"github.com/qym-labs/qym/pkg/score"
)

func writeCheckpoint(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "run.csv")

	writer, err := checkpoint.NewWriter(path, []string{"exact_match"})
	require.NoError(t, err)

	rows := []checkpoint.Row{
		{
			DatasetName: "letters",
			RunName:     "letters-m1",
			ItemID:      "a",
			Input:       "a",
			Output:      "A",
			Expected:    "A",
			Scores:      map[string]score.Score{"exact_match": score.Bool(true)},
		},
		{
			DatasetName: "letters",
			RunName:     "letters-m1",
			ItemID:      "b",
			Input:       "b",
			Output:      "B",
			Expected:    "X",
			Scores:      map[string]score.Score{"exact_match": score.Bool(false)},
		},
		{
			DatasetName: "letters",
			RunName:     "letters-m1",
			ItemID:      "c",
			Input:       "c",
			Err:         "task: boom",
		},
	}

	for _, row := range rows {
		require.NoError(t, writer.Append(row))
	}

	require.NoError(t, writer.Close())

	return path
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	path := writeCheckpoint(t)

	state, err := checkpoint.Load(path)
	require.NoError(t, err)

	summary := summarize(state)

	assert.Equal(t, "letters-m1", summary.RunName)
	assert.Equal(t, "letters", summary.DatasetName)
	assert.Equal(t, []string{"exact_match"}, summary.Metrics)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Errored)

	// Means cover successful rows only: (1 + 0) / 2.
	assert.InDelta(t, 0.5, summary.MetricMeans["exact_match"], 1e-9)

	assert.Equal(t, map[string]string{"c": "task: boom"}, summary.Errors)
}

func TestInspectCommand_Table(t *testing.T) {
	path := writeCheckpoint(t)

	cobraCmd := NewInspectCommand()
	cobraCmd.SetArgs([]string{"--checkpoint", path, "--errors"})

	require.NoError(t, cobraCmd.Execute())
}

func TestInspectCommand_MissingFile(t *testing.T) {
	t.Parallel()

	cobraCmd := NewInspectCommand()
	cobraCmd.SetArgs([]string{"--checkpoint", filepath.Join(t.TempDir(), "absent.csv")})

	require.Error(t, cobraCmd.Execute())
}
