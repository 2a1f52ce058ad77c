package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Items(t *testing.T) {
	t.Parallel()

	src, err := NewMemory("smoke", []Item{
		{ID: "a", Input: "x", Expected: "X"},
		{Input: "y"},
	})
	require.NoError(t, err)

	assert.Equal(t, "smoke", src.Name())

	items, err := src.Items()
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "a", items[0].EffectiveID(0))
	assert.Equal(t, "item_1", items[1].EffectiveID(1))
}

func TestMemory_Empty(t *testing.T) {
	t.Parallel()

	src, err := NewMemory("empty", nil)
	require.NoError(t, err)

	_, err = src.Items()
	require.ErrorIs(t, err, ErrEmptyDataset)
}

func TestMemory_RequiresName(t *testing.T) {
	t.Parallel()

	_, err := NewMemory("", nil)
	require.ErrorIs(t, err, ErrMissingName)
}

func TestMemory_ItemsReturnsCopy(t *testing.T) {
	t.Parallel()

	src, err := NewMemory("copy", []Item{{ID: "a", Input: 1}})
	require.NoError(t, err)

	items, err := src.Items()
	require.NoError(t, err)

	items[0].ID = "mutated"

	again, err := src.Items()
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].ID)
}

func TestFile_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "qa.json")
	payload := `[
		{"id": "a", "input": "x", "expected_output": "X"},
		{"input": {"question": "why"}, "metadata": {"difficulty": "hard"}}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	src, err := NewFile(path, "")
	require.NoError(t, err)

	assert.Equal(t, "qa", src.Name())

	items, err := src.Items()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "X", items[0].Expected)
	assert.Equal(t, "hard", items[1].Metadata["difficulty"])
}

func TestFile_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "qa.yaml")
	payload := "- id: a\n  input: x\n  expected_output: X\n- input: y\n"
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	src, err := NewFile(path, "named")
	require.NoError(t, err)

	assert.Equal(t, "named", src.Name())

	items, err := src.Items()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "x", items[0].Input)
}

func TestFile_RejectsBadShape(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"no_input": true}]`), 0o600))

	src, err := NewFile(path, "")
	require.NoError(t, err)

	_, err = src.Items()
	require.ErrorIs(t, err, ErrInvalidItems)
}

func TestFile_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "extra.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"input": "x", "bogus": 1}]`), 0o600))

	src, err := NewFile(path, "")
	require.NoError(t, err)

	_, err = src.Items()
	require.ErrorIs(t, err, ErrInvalidItems)
}

func TestFile_MissingFile(t *testing.T) {
	t.Parallel()

	src, err := NewFile(filepath.Join(t.TempDir(), "missing.json"), "")
	require.NoError(t, err)

	_, err = src.Items()
	require.Error(t, err)
}
