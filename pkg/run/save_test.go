package run

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-labs/qym/pkg/score"
)

func sampleSnapshot() Snapshot {
	s := NewState("qa-run", "qa", "provider/m1", []string{"accuracy"})

	s.AddResult("a", ItemResult{
		Input:       "question",
		Output:      "answer",
		Scores:      map[string]score.Score{"accuracy": score.Number(1)},
		TimeSeconds: 0.5,
	})
	s.AddError("b", ItemError{Input: "bad", Message: "boom"})

	return s.Snapshot()
}

func TestSave_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewJSONCodec()

	path, err := Save(dir, sampleSnapshot(), codec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "qa-run.json"), path)

	loaded, err := LoadSnapshot(path, codec)
	require.NoError(t, err)

	assert.Equal(t, "qa-run", loaded.RunName)
	assert.Equal(t, "qa", loaded.DatasetName)
	assert.Equal(t, []string{"a", "b"}, loaded.ItemOrder)
	assert.Equal(t, "boom", loaded.Errors["b"].Message)
	assert.InDelta(t, 0.5, loaded.Statistics.SuccessRate, 1e-9)

	v, numeric := loaded.Results["a"].Scores["accuracy"].Value()
	require.True(t, numeric)
	assert.InDelta(t, 1, v, 1e-9)
}

func TestSave_LZ4RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewLZ4Codec()

	path, err := Save(dir, sampleSnapshot(), codec)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".json.lz4"))

	loaded, err := LoadSnapshot(path, codec)
	require.NoError(t, err)
	assert.Equal(t, "qa-run", loaded.RunName)
	assert.Len(t, loaded.Results, 1)
}

func TestSave_CreatesDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "deep", "nested")

	_, err := Save(dir, sampleSnapshot(), NewJSONCodec())
	require.NoError(t, err)
}

func TestLoadSnapshot_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"), NewJSONCodec())
	require.Error(t, err)
}
