package metric

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/qym-labs/qym/pkg/score"
)

// builtins returns the metrics every registry starts with.
func builtins() []Metric {
	return []Metric{
		exactMatch(),
		contains(),
		levenshteinSimilarity(),
		regexMatch(),
		diffRatio(),
	}
}

// stringify renders any output/expected value for textual comparison.
func stringify(v any) string {
	if v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}

func exactMatch() Metric {
	return Binary("exact_match",
		"1 when output equals expected exactly, 0 otherwise.",
		func(output, expected any) any {
			return stringify(output) == stringify(expected)
		})
}

func contains() Metric {
	return Binary("contains",
		"1 when the expected string occurs in the output, 0 otherwise.",
		func(output, expected any) any {
			return strings.Contains(stringify(output), stringify(expected))
		})
}

func levenshteinSimilarity() Metric {
	return Binary("levenshtein",
		"Normalized edit-distance similarity between output and expected (1 = identical).",
		func(output, expected any) any {
			out := stringify(output)
			exp := stringify(expected)

			longest := max(len([]rune(out)), len([]rune(exp)))
			if longest == 0 {
				return 1.0
			}

			var ctx levenshteinContext

			distance := ctx.distance(out, exp)

			return 1.0 - float64(distance)/float64(longest)
		})
}

func regexMatch() Metric {
	return Binary("regex_match",
		"1 when the output matches the expected value interpreted as a regular expression.",
		func(output, expected any) any {
			pattern, err := regexp.Compile(stringify(expected))
			if err != nil {
				return score.Object{Error: fmt.Sprintf("compile pattern: %v", err)}
			}

			return pattern.MatchString(stringify(output))
		})
}

// diffRatio scores by character-level diff overlap, tolerant of
// reordering-free insertions and deletions.
func diffRatio() Metric {
	return Binary("diff_ratio",
		"Fraction of characters shared between output and expected per a character diff.",
		func(output, expected any) any {
			out := stringify(output)
			exp := stringify(expected)

			if out == "" && exp == "" {
				return 1.0
			}

			dmp := diffmatchpatch.New()
			diffs := dmp.DiffMain(out, exp, false)

			var common int

			for _, d := range diffs {
				if d.Type == diffmatchpatch.DiffEqual {
					common += len([]rune(d.Text))
				}
			}

			total := len([]rune(out)) + len([]rune(exp))
			if total == 0 {
				return 1.0
			}

			return float64(2*common) / float64(total)
		})
}
