package score

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce_Scalars(t *testing.T) {
	t.Parallel()

	numeric, err := Coerce(0.75)
	require.NoError(t, err)

	value, ok := numeric.Value()
	require.True(t, ok)
	assert.InDelta(t, 0.75, value, 1e-9)

	boolean, err := Coerce(true)
	require.NoError(t, err)

	value, ok = boolean.Value()
	require.True(t, ok)
	assert.InDelta(t, 1.0, value, 1e-9)

	categorical, err := Coerce("pass")
	require.NoError(t, err)

	str, ok := categorical.StringValue()
	require.True(t, ok)
	assert.Equal(t, "pass", str)

	_, ok = categorical.Value()
	assert.False(t, ok)
}

func TestCoerce_IntegerKinds(t *testing.T) {
	t.Parallel()

	for _, raw := range []any{int(1), int32(1), int64(1), float32(1)} {
		s, err := Coerce(raw)
		require.NoError(t, err)

		value, ok := s.Value()
		require.True(t, ok)
		assert.InDelta(t, 1.0, value, 1e-9)
	}
}

func TestCoerce_Mapping(t *testing.T) {
	t.Parallel()

	s, err := Coerce(map[string]any{
		"score":    0.5,
		"metadata": map[string]any{"reason": "partial"},
	})
	require.NoError(t, err)

	value, ok := s.Value()
	require.True(t, ok)
	assert.InDelta(t, 0.5, value, 1e-9)
	assert.Equal(t, "partial", s.Metadata()["reason"])
}

func TestCoerce_ErrorObject(t *testing.T) {
	t.Parallel()

	s := Errorf("metric blew up: %s", "boom")

	assert.True(t, s.IsError())
	assert.Equal(t, "metric blew up: boom", s.Err())

	_, ok := s.Value()
	assert.False(t, ok)
	assert.Equal(t, "N/A", s.CellValue())
}

func TestCoerce_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := Coerce(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = Coerce(map[string]any{"value": 1})
	require.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestCellValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1", Number(1).CellValue())
	assert.Equal(t, "0.667", Number(0.667).CellValue())
	assert.Equal(t, "true", Bool(true).CellValue())
	assert.Equal(t, "false", Bool(false).CellValue())
	assert.Equal(t, "good", String("good").CellValue())
	assert.Equal(t, "0.5", FromObject(Object{Score: 0.5}).CellValue())
}

func TestMetaJSON(t *testing.T) {
	t.Parallel()

	plain := Number(1)
	meta, err := plain.MetaJSON()
	require.NoError(t, err)
	assert.Empty(t, meta)

	obj := FromObject(Object{Score: 0.9, Metadata: map[string]any{"k": "v"}})
	meta, err = obj.MetaJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"metadata":{"k":"v"}}`, meta)
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Score{
		Number(0.25),
		Bool(true),
		String("excellent"),
		FromObject(Object{Score: 0.8, Metadata: map[string]any{"why": "close"}}),
		FromObject(Object{Error: "timeout"}),
	}

	for _, original := range cases {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var restored Score

		err = json.Unmarshal(data, &restored)
		require.NoError(t, err)

		assert.Equal(t, original.Kind(), restored.Kind())
		assert.Equal(t, original.CellValue(), restored.CellValue())
		assert.Equal(t, original.Err(), restored.Err())
	}
}
