package metric

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel registry errors.
var (
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrDuplicateMetric = errors.New("metric already registered")
	ErrEmptyName       = errors.New("metric name must not be empty")
)

// Registry resolves metrics by name. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewRegistry creates a registry pre-populated with the built-in
// metrics (exact_match, contains, levenshtein, regex_match,
// diff_ratio).
func NewRegistry() *Registry {
	r := &Registry{metrics: make(map[string]Metric)}

	for _, m := range builtins() {
		// Built-in names are unique by construction.
		r.metrics[m.Name()] = m
	}

	return r
}

// Register adds a custom metric. Registering a name twice fails.
func (r *Registry) Register(m Metric) error {
	if m.Name() == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metrics[m.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, m.Name())
	}

	r.metrics[m.Name()] = m

	return nil
}

// Lookup resolves one metric by name.
func (r *Registry) Lookup(name string) (Metric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, found := r.metrics[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}

	return m, nil
}

// Resolve maps an ordered list of names to metrics, preserving order.
func (r *Registry) Resolve(names []string) ([]Metric, error) {
	resolved := make([]Metric, 0, len(names))

	for _, name := range names {
		m, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}

		resolved = append(resolved, m)
	}

	return resolved, nil
}

// Names returns all registered metric names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
