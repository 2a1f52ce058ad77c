// Package run holds the in-memory result container for an evaluation
// run and its persisted summary forms.
package run

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/qym-labs/qym/pkg/score"
)

// ItemResult records one successfully evaluated item.
type ItemResult struct {
	Input           any                    `json:"input"`
	Output          any                    `json:"output"`
	Expected        any                    `json:"expected_output,omitempty"`
	Scores          map[string]score.Score `json:"scores"`
	TraceID         string                 `json:"trace_id,omitempty"`
	TraceURL        string                 `json:"trace_url,omitempty"`
	TimeSeconds     float64                `json:"time_seconds"`
	TaskStartedAtMS int64                  `json:"task_started_at_ms"`
}

// ItemError records one failed item.
type ItemError struct {
	Input           any    `json:"input"`
	Message         string `json:"error_message"`
	TraceID         string `json:"trace_id,omitempty"`
	TaskStartedAtMS int64  `json:"task_started_at_ms"`
}

// State accumulates results as an evaluation progresses. Writes happen
// on the evaluator's single writer goroutine; the mutex guards the
// read paths (dashboard, snapshots) that run concurrently with it.
type State struct {
	mu sync.RWMutex

	runName     string
	datasetName string
	model       string
	metrics     []string
	metadata    map[string]any
	config      map[string]any
	startedAt   time.Time

	// order preserves first-recorded order of item ids across both
	// outcome maps.
	order   []string
	results map[string]ItemResult
	errors  map[string]ItemError

	interrupted   bool
	endedAt       time.Time
	lastSavedPath string
}

// NewState creates an empty container for one run.
func NewState(runName, datasetName, model string, metrics []string) *State {
	return &State{
		runName:     runName,
		datasetName: datasetName,
		model:       model,
		metrics:     slices.Clone(metrics),
		metadata:    map[string]any{},
		config:      map[string]any{},
		startedAt:   time.Now(),
		results:     make(map[string]ItemResult),
		errors:      make(map[string]ItemError),
	}
}

// RunName returns the run identifier.
func (s *State) RunName() string {
	return s.runName
}

// DatasetName returns the dataset name.
func (s *State) DatasetName() string {
	return s.datasetName
}

// Model returns the model string the run was configured with.
func (s *State) Model() string {
	return s.model
}

// Metrics returns the metric names in declaration order.
func (s *State) Metrics() []string {
	return slices.Clone(s.metrics)
}

// SetConfig records the effective run configuration.
func (s *State) SetConfig(config map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = make(map[string]any, len(config))
	for k, v := range config {
		s.config[k] = v
	}
}

// MergeMetadata merges keys into the run metadata. Later values win.
func (s *State) MergeMetadata(update map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range update {
		s.metadata[k] = v
	}
}

// Metadata returns a copy of the run metadata.
func (s *State) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}

	return out
}

// AddResult records a success. A later record for the same id replaces
// the earlier one and clears any error.
func (s *State) AddResult(itemID string, result ItemResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trackOrder(itemID)
	delete(s.errors, itemID)

	s.results[itemID] = result
}

// AddError records a failure. A later record for the same id replaces
// the earlier one and clears any success.
func (s *State) AddError(itemID string, itemErr ItemError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trackOrder(itemID)
	delete(s.results, itemID)

	s.errors[itemID] = itemErr
}

func (s *State) trackOrder(itemID string) {
	if _, haveResult := s.results[itemID]; haveResult {
		return
	}

	if _, haveError := s.errors[itemID]; haveError {
		return
	}

	s.order = append(s.order, itemID)
}

// Result returns the recorded success for an item id.
func (s *State) Result(itemID string) (ItemResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[itemID]

	return r, ok
}

// Error returns the recorded failure for an item id.
func (s *State) Error(itemID string) (ItemError, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.errors[itemID]

	return e, ok
}

// Counts returns the number of successes and failures recorded.
func (s *State) Counts() (succeeded, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.results), len(s.errors)
}

// ItemIDs returns the attempted item ids in first-recorded order.
func (s *State) ItemIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.order)
}

// SetInterrupted marks the run as interrupted by the user.
func (s *State) SetInterrupted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interrupted = true
}

// Interrupted reports whether the run was interrupted.
func (s *State) Interrupted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.interrupted
}

// SetLastSavedPath records where the run's rows were persisted.
func (s *State) SetLastSavedPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSavedPath = path
}

// LastSavedPath returns the checkpoint (or export) path for this run.
func (s *State) LastSavedPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastSavedPath
}

// SetEndTime records when the run finished.
func (s *State) SetEndTime(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endedAt = at
}

// Statistics summarizes a run: attempted counts, success rate, and the
// mean of each metric's numeric scores.
type Statistics struct {
	Total       int                `json:"total"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	SuccessRate float64            `json:"success_rate"`
	MetricMeans map[string]float64 `json:"metric_means"`
}

// Stats computes run statistics over the recorded outcomes. Non-numeric
// and error scores are excluded from metric means; a metric with no
// numeric scores is omitted.
func (s *State) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		Succeeded:   len(s.results),
		Failed:      len(s.errors),
		MetricMeans: make(map[string]float64),
	}

	stats.Total = stats.Succeeded + stats.Failed
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)

	for _, result := range s.results {
		for name, sc := range result.Scores {
			v, numeric := sc.Value()
			if !numeric {
				continue
			}

			sums[name] += v
			counts[name]++
		}
	}

	for name, sum := range sums {
		stats.MetricMeans[name] = sum / float64(counts[name])
	}

	return stats
}

// Snapshot is the serializable form of a completed run.
type Snapshot struct {
	RunName     string                `json:"run_name"`
	DatasetName string                `json:"dataset_name"`
	Model       string                `json:"model,omitempty"`
	Metrics     []string              `json:"metrics"`
	Metadata    map[string]any        `json:"run_metadata"`
	Config      map[string]any        `json:"run_config"`
	StartedAt   time.Time             `json:"started_at"`
	EndedAt     time.Time             `json:"ended_at,omitzero"`
	Interrupted bool                  `json:"interrupted"`
	SavedPath   string                `json:"last_saved_path,omitempty"`
	Statistics  Statistics            `json:"statistics"`
	Results     map[string]ItemResult `json:"results"`
	Errors      map[string]ItemError  `json:"errors"`
	ItemOrder   []string              `json:"item_order"`
}

// Snapshot captures the current state for persistence or reporting.
func (s *State) Snapshot() Snapshot {
	stats := s.Stats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		RunName:     s.runName,
		DatasetName: s.datasetName,
		Model:       s.model,
		Metrics:     slices.Clone(s.metrics),
		Metadata:    make(map[string]any, len(s.metadata)),
		Config:      make(map[string]any, len(s.config)),
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		Interrupted: s.interrupted,
		SavedPath:   s.lastSavedPath,
		Statistics:  stats,
		Results:     make(map[string]ItemResult, len(s.results)),
		Errors:      make(map[string]ItemError, len(s.errors)),
		ItemOrder:   slices.Clone(s.order),
	}

	for k, v := range s.metadata {
		snap.Metadata[k] = v
	}

	for k, v := range s.config {
		snap.Config[k] = v
	}

	for k, v := range s.results {
		snap.Results[k] = v
	}

	for k, v := range s.errors {
		snap.Errors[k] = v
	}

	return snap
}

// SortedMetricMeans returns metric means as (name, mean) pairs in
// name order, for stable display.
func (st Statistics) SortedMetricMeans() []MetricMean {
	means := make([]MetricMean, 0, len(st.MetricMeans))
	for name, mean := range st.MetricMeans {
		means = append(means, MetricMean{Name: name, Mean: mean})
	}

	sort.Slice(means, func(i, j int) bool { return means[i].Name < means[j].Name })

	return means
}

// MetricMean is one metric's average score.
type MetricMean struct {
	Name string
	Mean float64
}
