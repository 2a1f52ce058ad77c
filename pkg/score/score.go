// Package score defines the normalized score sum type shared by metrics,
// result containers, and the checkpoint codec.
package score

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind discriminates the score variants.
type Kind int

// Score variants.
const (
	KindNumber Kind = iota
	KindBool
	KindString
	KindObject
)

// ErrUnsupportedValue is returned when a raw metric return cannot be
// coerced into a Score.
var ErrUnsupportedValue = errors.New("unsupported score value")

// Object is the structured score variant. When Error is non-empty the
// numeric score is undefined and the score counts as an error for its
// metric.
type Object struct {
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Score is the normalized result of a metric on one item. The zero
// value is the number 0.
type Score struct {
	kind    Kind
	number  float64
	boolean bool
	str     string
	object  Object
}

// Number builds a numeric score.
func Number(v float64) Score {
	return Score{kind: KindNumber, number: v}
}

// Bool builds a boolean score (treated as 1/0 numerically).
func Bool(v bool) Score {
	return Score{kind: KindBool, boolean: v}
}

// String builds a categorical score.
func String(v string) Score {
	return Score{kind: KindString, str: v}
}

// FromObject builds a structured score.
func FromObject(obj Object) Score {
	return Score{kind: KindObject, object: obj}
}

// Errorf builds an error score with a zero numeric value.
func Errorf(format string, args ...any) Score {
	return FromObject(Object{Error: fmt.Sprintf(format, args...)})
}

// Kind returns the variant tag.
func (s Score) Kind() Kind {
	return s.kind
}

// IsError reports whether this is an error score.
func (s Score) IsError() bool {
	return s.kind == KindObject && s.object.Error != ""
}

// Err returns the error message for error scores, empty otherwise.
func (s Score) Err() string {
	if s.kind != KindObject {
		return ""
	}

	return s.object.Error
}

// Metadata returns the metadata bag for object scores, nil otherwise.
func (s Score) Metadata() map[string]any {
	if s.kind != KindObject {
		return nil
	}

	return s.object.Metadata
}

// Value returns the numeric view of the score. Booleans map to 1/0,
// objects expose their embedded score. Categorical strings and error
// scores have no numeric view (ok=false).
func (s Score) Value() (float64, bool) {
	switch s.kind {
	case KindNumber:
		return s.number, true
	case KindBool:
		if s.boolean {
			return 1, true
		}

		return 0, true
	case KindObject:
		if s.object.Error != "" {
			return 0, false
		}

		return s.object.Score, true
	case KindString:
		return 0, false
	default:
		return 0, false
	}
}

// StringValue returns the categorical value for string scores.
func (s Score) StringValue() (string, bool) {
	if s.kind != KindString {
		return "", false
	}

	return s.str, true
}

// Coerce normalizes a raw metric return into a Score. Accepted shapes:
// numeric types, bool, string, Object, *Object, Score, and mappings
// with a "score" key (plus optional "metadata"/"error").
func Coerce(raw any) (Score, error) {
	switch v := raw.(type) {
	case Score:
		return v, nil
	case Object:
		return FromObject(v), nil
	case *Object:
		if v == nil {
			return Score{}, fmt.Errorf("%w: nil *Object", ErrUnsupportedValue)
		}

		return FromObject(*v), nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case float64:
		return Number(v), nil
	case float32:
		return Number(float64(v)), nil
	case int:
		return Number(float64(v)), nil
	case int32:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Score{}, fmt.Errorf("%w: %q", ErrUnsupportedValue, v.String())
		}

		return Number(f), nil
	case map[string]any:
		return coerceMap(v)
	default:
		return Score{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

func coerceMap(m map[string]any) (Score, error) {
	rawScore, hasScore := m["score"]
	if !hasScore {
		return Score{}, fmt.Errorf("%w: mapping without score key", ErrUnsupportedValue)
	}

	obj := Object{}

	if rawScore != nil {
		inner, err := Coerce(rawScore)
		if err != nil {
			return Score{}, err
		}

		value, ok := inner.Value()
		if !ok {
			return Score{}, fmt.Errorf("%w: non-numeric score key", ErrUnsupportedValue)
		}

		obj.Score = value
	}

	if meta, ok := m["metadata"].(map[string]any); ok {
		obj.Metadata = meta
	}

	if errMsg, ok := m["error"].(string); ok {
		obj.Error = errMsg
	}

	return FromObject(obj), nil
}

// MarshalJSON serializes the score as its natural JSON shape: a bare
// number, boolean, or string for scalar variants and the object form
// for structured scores.
func (s Score) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindNumber:
		return json.Marshal(s.number)
	case KindBool:
		return json.Marshal(s.boolean)
	case KindString:
		return json.Marshal(s.str)
	case KindObject:
		return json.Marshal(s.object)
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedValue, s.kind)
	}
}

// UnmarshalJSON restores a score from its natural JSON shape.
func (s *Score) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any

	err := dec.Decode(&raw)
	if err != nil {
		return fmt.Errorf("decode score: %w", err)
	}

	parsed, err := Coerce(normalizeDecoded(raw))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// normalizeDecoded converts json.Number leaves inside decoded maps so
// Coerce sees plain float64 values.
func normalizeDecoded(raw any) any {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}

		return f
	case map[string]any:
		for key, val := range v {
			v[key] = normalizeDecoded(val)
		}

		return v
	default:
		return raw
	}
}

// CellValue renders the score for a checkpoint CSV `_score` column.
// Numbers are decimal, booleans "true"/"false", strings verbatim, and
// object scores render their embedded numeric value. Error scores
// render as "N/A" (the row-level error convention).
func (s Score) CellValue() string {
	switch s.kind {
	case KindNumber:
		return strconv.FormatFloat(s.number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(s.boolean)
	case KindString:
		return s.str
	case KindObject:
		if s.object.Error != "" {
			return "N/A"
		}

		return strconv.FormatFloat(s.object.Score, 'f', -1, 64)
	default:
		return ""
	}
}

// MetaJSON renders the `__meta__json` companion column: a JSON object
// holding metadata and/or error for structured scores, empty otherwise.
func (s Score) MetaJSON() (string, error) {
	if s.kind != KindObject {
		return "", nil
	}

	if s.object.Metadata == nil && s.object.Error == "" {
		return "", nil
	}

	payload := map[string]any{}

	if s.object.Metadata != nil {
		payload["metadata"] = s.object.Metadata
	}

	if s.object.Error != "" {
		payload["error"] = s.object.Error
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal score metadata: %w", err)
	}

	return string(data), nil
}
