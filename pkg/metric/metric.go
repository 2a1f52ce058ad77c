// Package metric defines scoring functions and the registry that
// resolves them by name.
//
// Each metric is a computation unit that:
//   - Receives the task output, the expected output, and the raw input
//   - Produces a normalized [score.Score]
//   - Carries a machine-readable name for checkpoint columns
package metric

import (
	"context"
	"fmt"

	"github.com/qym-labs/qym/pkg/score"
)

// Metric scores one task output against an expected value.
type Metric interface {
	// Name returns the machine-readable identifier (snake_case, unique).
	// It becomes the `{name}_score` checkpoint column.
	Name() string

	// Description returns human-readable documentation.
	Description() string

	// Evaluate computes the score for one sample.
	Evaluate(ctx context.Context, sample Sample) (score.Score, error)
}

// Sample is the metric input for one item.
type Sample struct {
	// Output is the task's return value, preserved verbatim.
	Output any

	// Expected is the dataset's expected output. May be nil.
	Expected any

	// Input is the raw item input. May be nil.
	Input any
}

// Func is the generic metric callable over a full sample. Raw returns
// are normalized through [score.Coerce].
type Func func(ctx context.Context, sample Sample) (any, error)

type funcMetric struct {
	name        string
	description string
	fn          Func
}

// New wraps a callable into a Metric.
func New(name, description string, fn Func) Metric {
	return &funcMetric{name: name, description: description, fn: fn}
}

// Unary adapts a metric over the output alone.
func Unary(name, description string, fn func(output any) any) Metric {
	return New(name, description, func(_ context.Context, sample Sample) (any, error) {
		return fn(sample.Output), nil
	})
}

// Binary adapts a metric over (output, expected).
func Binary(name, description string, fn func(output, expected any) any) Metric {
	return New(name, description, func(_ context.Context, sample Sample) (any, error) {
		return fn(sample.Output, sample.Expected), nil
	})
}

// Ternary adapts a metric over (output, expected, input).
func Ternary(name, description string, fn func(output, expected, input any) any) Metric {
	return New(name, description, func(_ context.Context, sample Sample) (any, error) {
		return fn(sample.Output, sample.Expected, sample.Input), nil
	})
}

func (m *funcMetric) Name() string {
	return m.name
}

func (m *funcMetric) Description() string {
	return m.description
}

func (m *funcMetric) Evaluate(ctx context.Context, sample Sample) (score.Score, error) {
	raw, err := m.fn(ctx, sample)
	if err != nil {
		return score.Score{}, err
	}

	normalized, err := score.Coerce(raw)
	if err != nil {
		return score.Score{}, fmt.Errorf("metric %s: %w", m.name, err)
	}

	return normalized, nil
}
