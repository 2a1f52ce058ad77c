// Package dataset provides item sources for evaluation runs.
package dataset

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrEmptyDataset is returned when a source yields no items.
	ErrEmptyDataset = errors.New("dataset has no items")

	// ErrMissingName is returned when a source has no usable name.
	ErrMissingName = errors.New("dataset name must not be empty")
)

// Item is a single dataset record. Immutable for the duration of a run.
type Item struct {
	// ID is unique within the dataset. May be empty, in which case the
	// runner assigns a synthetic "item_<index>" id.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Input is the task input, any JSON-able value.
	Input any `json:"input" yaml:"input"`

	// Expected is the optional expected output for metric comparison.
	Expected any `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`

	// Metadata is an opaque per-item bag.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EffectiveID returns the item's id, or the synthetic id for its
// position when none was provided.
func (it Item) EffectiveID(index int) string {
	if it.ID != "" {
		return it.ID
	}

	return SyntheticID(index)
}

// SyntheticID builds the id assigned to items without one.
func SyntheticID(index int) string {
	return fmt.Sprintf("item_%d", index)
}

// Source is the provider contract consumed by the evaluator.
type Source interface {
	// Name identifies the dataset in run ids, checkpoints, and events.
	Name() string

	// Items returns every item of the dataset. Called once at run start.
	Items() ([]Item, error)
}

// Memory is an in-memory Source over a fixed slice of items.
type Memory struct {
	name  string
	items []Item
}

// NewMemory builds an in-memory source.
func NewMemory(name string, items []Item) (*Memory, error) {
	if name == "" {
		return nil, ErrMissingName
	}

	return &Memory{name: name, items: items}, nil
}

// Name implements Source.
func (m *Memory) Name() string {
	return m.name
}

// Items implements Source.
func (m *Memory) Items() ([]Item, error) {
	if len(m.items) == 0 {
		return nil, ErrEmptyDataset
	}

	out := make([]Item, len(m.items))
	copy(out, m.items)

	return out, nil
}
