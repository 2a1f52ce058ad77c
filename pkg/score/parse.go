package score

import (
	"encoding/json"
	"strconv"
	"strings"
)

// percentDivisor converts "N%" cells to a 0..1 fraction.
const percentDivisor = 100

// ParseNumeric interprets a checkpoint cell as a numeric score.
// Accepted forms: raw decimals, "1"/"0", "true"/"false"/"yes"/"no",
// the glyphs "✓"/"✗", and "N%" (scaled to N/100). Empty cells and
// "N/A" have no value (present=false).
func ParseNumeric(cell string) (value float64, present bool) {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return 0, false
	}

	switch strings.ToLower(trimmed) {
	case "n/a":
		return 0, false
	case "true", "yes", "✓":
		return 1, true
	case "false", "no", "✗":
		return 0, true
	}

	if strings.HasSuffix(trimmed, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(trimmed, "%"), 64)
		if err != nil {
			return 0, false
		}

		return pct / percentDivisor, true
	}

	number, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}

	return number, true
}

// ParseCell restores a Score from its checkpoint cells. The metaJSON
// companion cell, when non-empty, promotes the value to an object score
// carrying metadata and/or an error message.
func ParseCell(cell, metaJSON string) (Score, bool) {
	trimmed := strings.TrimSpace(cell)

	if metaJSON != "" {
		obj, ok := parseMetaObject(trimmed, metaJSON)
		if ok {
			return FromObject(obj), true
		}
	}

	switch strings.ToLower(trimmed) {
	case "", "n/a":
		return Score{}, false
	case "true":
		return Bool(true), true
	case "false":
		return Bool(false), true
	}

	value, present := ParseNumeric(trimmed)
	if present {
		return Number(value), true
	}

	// Anything left is a categorical string score.
	return String(trimmed), true
}

func parseMetaObject(cell, metaJSON string) (Object, bool) {
	var payload struct {
		Metadata map[string]any `json:"metadata"`
		Error    string         `json:"error"`
	}

	err := json.Unmarshal([]byte(metaJSON), &payload)
	if err != nil {
		return Object{}, false
	}

	obj := Object{Metadata: payload.Metadata, Error: payload.Error}

	if value, present := ParseNumeric(cell); present {
		obj.Score = value
	}

	return obj, true
}
