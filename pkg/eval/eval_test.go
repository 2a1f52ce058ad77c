package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/qym-labs/qym/pkg/checkpoint"
	"github.com/qym-labs/qym/pkg/config"
	"github.com/qym-labs/qym/pkg/dataset"
	"github.com/qym-labs/qym/pkg/metric"
	"github.com/qym-labs/qym/pkg/observer"
	"github.com/qym-labs/qym/pkg/task"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Run: config.RunConfig{
			MaxConcurrency:        4,
			TimeoutSeconds:        30,
			InterruptGraceSeconds: 1,
			OutputDir:             t.TempDir(),
		},
		Checkpoint: config.CheckpointConfig{
			Enabled:       true,
			Format:        "csv",
			FlushEachItem: true,
		},
	}
}

func upperTask(t *testing.T) task.Adapter {
	t.Helper()

	adapter, err := task.New(func(input string) string {
		return strings.ToUpper(input)
	}, task.WithParamNames("input"))
	require.NoError(t, err)

	return adapter
}

func exactMatch() metric.Metric {
	return metric.Binary("exact_match", "output equals expected", func(output, expected any) any {
		return output == expected
	})
}

func letters() []dataset.Item {
	return []dataset.Item{
		{ID: "a", Input: "a", Expected: "A"},
		{ID: "b", Input: "b", Expected: "B"},
		{ID: "c", Input: "c", Expected: "X"},
		{ID: "d", Input: "d", Expected: "D"},
	}
}

// safeObserver records events under a lock; workers emit concurrently.
type safeObserver struct {
	mu     sync.Mutex
	events []observer.Event
}

func (o *safeObserver) Observe(event observer.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.events = append(o.events, event)

	return nil
}

func (o *safeObserver) byType(t observer.EventType) []observer.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []observer.Event

	for _, e := range o.events {
		if e.Type == t {
			out = append(out, e)
		}
	}

	return out
}

func TestEvaluator_RunScoresEveryItem(t *testing.T) {
	t.Parallel()

	source, err := dataset.NewMemory("letters", letters())
	require.NoError(t, err)

	recorder := &safeObserver{}

	evaluator, err := New(Options{
		Task:      upperTask(t),
		Dataset:   source,
		Metrics:   []metric.Metric{exactMatch()},
		Config:    testConfig(t),
		Observers: []observer.Observer{recorder},
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	succeeded, failed := state.Counts()
	assert.Equal(t, 4, succeeded)
	assert.Zero(t, failed)

	stats := state.Stats()
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
	// "c" expects "X" and scores 0; the other three score 1.
	assert.InDelta(t, 0.75, stats.MetricMeans["exact_match"], 1e-9)

	assert.Len(t, recorder.byType(observer.ItemCompleted), 4)
	assert.Len(t, recorder.byType(observer.MetricScored), 4)
	assert.Len(t, recorder.byType(observer.RunStarted), 1)
	assert.Len(t, recorder.byType(observer.RunCompleted), 1)
	assert.False(t, state.Interrupted())
}

func TestEvaluator_PopulatesTraceLinks(t *testing.T) {
	t.Parallel()

	source, err := dataset.NewMemory("one", []dataset.Item{{ID: "a", Input: "a", Expected: "A"}})
	require.NoError(t, err)

	provider := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	evaluator, err := New(Options{
		Task:         upperTask(t),
		Dataset:      source,
		Metrics:      []metric.Metric{exactMatch()},
		Config:       testConfig(t),
		Tracer:       provider.Tracer("test"),
		TraceURLBase: "https://platform.example/traces/",
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	result, ok := state.Result("a")
	require.True(t, ok)
	require.NotEmpty(t, result.TraceID)
	assert.Equal(t, "https://platform.example/traces/"+result.TraceID, result.TraceURL)
}

func TestEvaluator_CheckpointHoldsEveryRow(t *testing.T) {
	t.Parallel()

	source, err := dataset.NewMemory("letters", letters())
	require.NoError(t, err)

	evaluator, err := New(Options{
		Task:    upperTask(t),
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  testConfig(t),
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, state.LastSavedPath())

	cpState, err := checkpoint.Load(state.LastSavedPath())
	require.NoError(t, err)

	assert.Len(t, cpState.Completed, 4)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, cpState.Completed)
	assert.Equal(t, []string{"exact_match"}, cpState.Metrics)
	assert.Equal(t, "letters", cpState.DatasetName)
}

func TestEvaluator_PerItemEventOrder(t *testing.T) {
	t.Parallel()

	source, err := dataset.NewMemory("one", []dataset.Item{{ID: "a", Input: "a", Expected: "A"}})
	require.NoError(t, err)

	recorder := &safeObserver{}
	cfg := testConfig(t)
	cfg.Run.MaxConcurrency = 1

	evaluator, err := New(Options{
		Task:      upperTask(t),
		Dataset:   source,
		Metrics:   []metric.Metric{exactMatch()},
		Config:    cfg,
		Observers: []observer.Observer{recorder},
	})
	require.NoError(t, err)

	_, err = evaluator.Run(context.Background())
	require.NoError(t, err)

	var sequence []observer.EventType

	for _, e := range recorder.events {
		if e.ItemID == "a" {
			sequence = append(sequence, e.Type)
		}
	}

	assert.Equal(t, []observer.EventType{
		observer.ItemStarted,
		observer.MetricScored,
		observer.ItemCompleted,
	}, sequence)
}

func TestEvaluator_TaskErrorBecomesErrorRow(t *testing.T) {
	t.Parallel()

	adapter, err := task.New(func(input string) (string, error) {
		if input == "bad" {
			return "", errors.New("model refused")
		}

		return strings.ToUpper(input), nil
	}, task.WithParamNames("input"))
	require.NoError(t, err)

	source, err := dataset.NewMemory("mixed", []dataset.Item{
		{ID: "ok", Input: "ok", Expected: "OK"},
		{ID: "bad", Input: "bad"},
	})
	require.NoError(t, err)

	recorder := &safeObserver{}

	evaluator, err := New(Options{
		Task:      adapter,
		Dataset:   source,
		Metrics:   []metric.Metric{exactMatch()},
		Config:    testConfig(t),
		Observers: []observer.Observer{recorder},
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	succeeded, failed := state.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)

	itemErr, ok := state.Error("bad")
	require.True(t, ok)
	assert.Contains(t, itemErr.Message, "model refused")

	failures := recorder.byType(observer.ItemFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].ItemID)

	cpState, loadErr := checkpoint.Load(state.LastSavedPath())
	require.NoError(t, loadErr)
	assert.True(t, cpState.Errored["bad"])
	assert.False(t, cpState.Errored["ok"])
}

func TestEvaluator_TimeoutRecordsError(t *testing.T) {
	t.Parallel()

	adapter, err := task.New(func(ctx context.Context, input string) (string, error) {
		<-ctx.Done()

		return "", ctx.Err()
	}, task.WithParamNames("input"))
	require.NoError(t, err)

	source, err := dataset.NewMemory("slow", []dataset.Item{{ID: "a", Input: "a"}})
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Run.TimeoutSeconds = 1

	evaluator, err := New(Options{
		Task:    adapter,
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  cfg,
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	itemErr, ok := state.Error("a")
	require.True(t, ok)
	assert.Contains(t, itemErr.Message, "timed out")
}

func TestEvaluator_MetricErrorDoesNotFailItem(t *testing.T) {
	t.Parallel()

	broken := metric.New("broken", "always errors", func(ctx context.Context, sample metric.Sample) (any, error) {
		return nil, errors.New("judge unavailable")
	})

	source, err := dataset.NewMemory("one", []dataset.Item{{ID: "a", Input: "a", Expected: "A"}})
	require.NoError(t, err)

	evaluator, err := New(Options{
		Task:    upperTask(t),
		Dataset: source,
		Metrics: []metric.Metric{broken, exactMatch()},
		Config:  testConfig(t),
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	result, ok := state.Result("a")
	require.True(t, ok)

	assert.True(t, result.Scores["broken"].IsError())
	assert.Contains(t, result.Scores["broken"].Err(), "judge unavailable")

	v, numeric := result.Scores["exact_match"].Value()
	require.True(t, numeric)
	assert.InDelta(t, 1, v, 1e-9)
}

func TestEvaluator_ResumeSkipsCompleted(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	firstTwo, err := dataset.NewMemory("letters", letters()[:2])
	require.NoError(t, err)

	first, err := New(Options{
		Task:    upperTask(t),
		Dataset: firstTwo,
		Metrics: []metric.Metric{exactMatch()},
		Config:  cfg,
	})
	require.NoError(t, err)

	firstState, err := first.Run(context.Background())
	require.NoError(t, err)

	var invoked sync.Map

	adapter, err := task.New(func(input string) string {
		invoked.Store(input, true)

		return strings.ToUpper(input)
	}, task.WithParamNames("input"))
	require.NoError(t, err)

	full, err := dataset.NewMemory("letters", letters())
	require.NoError(t, err)

	resumeCfg := testConfig(t)
	resumeCfg.Checkpoint.ResumeFrom = firstState.LastSavedPath()

	second, err := New(Options{
		Task:    adapter,
		Dataset: full,
		Metrics: []metric.Metric{exactMatch()},
		Config:  resumeCfg,
	})
	require.NoError(t, err)

	secondState, err := second.Run(context.Background())
	require.NoError(t, err)

	// The resumed run keeps the original run name and file.
	assert.Equal(t, firstState.RunName(), secondState.RunName())
	assert.Equal(t, firstState.LastSavedPath(), secondState.LastSavedPath())

	// Already-checkpointed items are not re-executed.
	_, ranA := invoked.Load("a")
	_, ranB := invoked.Load("b")
	_, ranC := invoked.Load("c")
	_, ranD := invoked.Load("d")
	assert.False(t, ranA)
	assert.False(t, ranB)
	assert.True(t, ranC)
	assert.True(t, ranD)

	// The final state covers the whole dataset.
	succeeded, failed := secondState.Counts()
	assert.Equal(t, 4, succeeded)
	assert.Zero(t, failed)

	// The file holds exactly one row per item.
	cpState, err := checkpoint.Load(secondState.LastSavedPath())
	require.NoError(t, err)
	assert.Len(t, cpState.Completed, 4)
}

func TestEvaluator_ResumeMismatchRejected(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	source, err := dataset.NewMemory("letters", letters()[:1])
	require.NoError(t, err)

	first, err := New(Options{
		Task:    upperTask(t),
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  cfg,
	})
	require.NoError(t, err)

	firstState, err := first.Run(context.Background())
	require.NoError(t, err)

	otherDataset, err := dataset.NewMemory("different", letters())
	require.NoError(t, err)

	resumeCfg := testConfig(t)
	resumeCfg.Checkpoint.ResumeFrom = firstState.LastSavedPath()

	second, err := New(Options{
		Task:    upperTask(t),
		Dataset: otherDataset,
		Metrics: []metric.Metric{exactMatch()},
		Config:  resumeCfg,
	})
	require.NoError(t, err)

	_, err = second.Run(context.Background())
	require.ErrorIs(t, err, ErrResumeMismatch)
}

func TestEvaluator_RerunErrorsUnsupported(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Checkpoint.ResumeFrom = "some.csv"
	cfg.Checkpoint.RerunErrors = true

	source, err := dataset.NewMemory("letters", letters())
	require.NoError(t, err)

	evaluator, err := New(Options{
		Task:    upperTask(t),
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  cfg,
	})
	require.NoError(t, err)

	_, err = evaluator.Run(context.Background())
	require.ErrorIs(t, err, ErrRerunErrorsUnsupported)
}

func TestEvaluator_RunNameOverrideIsVerbatim(t *testing.T) {
	t.Parallel()

	source, err := dataset.NewMemory("letters", letters()[:1])
	require.NoError(t, err)

	evaluator, err := New(Options{
		Task:    upperTask(t),
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  testConfig(t),
		RunName: "nightly-qa",
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "nightly-qa", state.RunName())
}

func TestEvaluator_InterruptDropsQueuedWork(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	var started sync.WaitGroup

	started.Add(1)

	var once sync.Once

	adapter, err := task.New(func(ctx context.Context, input string) string {
		once.Do(started.Done)

		select {
		case <-release:
		case <-ctx.Done():
		}

		return strings.ToUpper(input)
	}, task.WithParamNames("input"))
	require.NoError(t, err)

	items := make([]dataset.Item, 20)
	for i := range items {
		items[i] = dataset.Item{ID: fmt.Sprintf("id-%d", i), Input: "x"}
	}

	source, err := dataset.NewMemory("big", items)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Run.MaxConcurrency = 2

	evaluator, err := New(Options{
		Task:    adapter,
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  cfg,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		started.Wait()
		cancel()
		close(release)
	}()

	state, err := evaluator.Run(ctx)
	require.NoError(t, err)

	assert.True(t, state.Interrupted())

	succeeded, failed := state.Counts()
	assert.Less(t, succeeded+failed, 20)

	// Everything recorded in memory is also durable on disk.
	cpState, loadErr := checkpoint.Load(state.LastSavedPath())
	require.NoError(t, loadErr)
	assert.Len(t, cpState.Completed, succeeded+failed)
}

func TestEvaluator_InterruptBeforeStartMarksState(t *testing.T) {
	t.Parallel()

	source, err := dataset.NewMemory("letters", letters())
	require.NoError(t, err)

	evaluator, err := New(Options{
		Task:    upperTask(t),
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  testConfig(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := evaluator.Run(ctx)
	require.NoError(t, err)

	// Workers drain without processing; the flag must still be set by
	// the time Run returns.
	assert.True(t, state.Interrupted())

	succeeded, failed := state.Counts()
	assert.Zero(t, succeeded+failed)
}

func TestEvaluator_HonorsConcurrencyBound(t *testing.T) {
	t.Parallel()

	var inflight, maxInflight atomic.Int32

	adapter, err := task.New(func(input string) string {
		current := inflight.Add(1)
		defer inflight.Add(-1)

		for {
			prev := maxInflight.Load()
			if current <= prev || maxInflight.CompareAndSwap(prev, current) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return strings.ToUpper(input)
	}, task.WithParamNames("input"))
	require.NoError(t, err)

	items := make([]dataset.Item, 12)
	for i := range items {
		items[i] = dataset.Item{ID: fmt.Sprintf("id-%d", i), Input: "x"}
	}

	source, err := dataset.NewMemory("big", items)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Run.MaxConcurrency = 2

	evaluator, err := New(Options{
		Task:    adapter,
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
		Config:  cfg,
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	succeeded, _ := state.Counts()
	assert.Equal(t, 12, succeeded)
	assert.LessOrEqual(t, maxInflight.Load(), int32(2))
}

func TestEvaluator_TaskTimeExcludesMetrics(t *testing.T) {
	t.Parallel()

	slowMetric := metric.New("slow", "sleeps before scoring", func(context.Context, metric.Sample) (any, error) {
		time.Sleep(300 * time.Millisecond)

		return 1.0, nil
	})

	source, err := dataset.NewMemory("one", []dataset.Item{{ID: "a", Input: "a", Expected: "A"}})
	require.NoError(t, err)

	evaluator, err := New(Options{
		Task:    upperTask(t),
		Dataset: source,
		Metrics: []metric.Metric{slowMetric},
		Config:  testConfig(t),
	})
	require.NoError(t, err)

	state, err := evaluator.Run(context.Background())
	require.NoError(t, err)

	result, ok := state.Result("a")
	require.True(t, ok)

	// The task itself is near-instant; the slow metric must not count
	// toward its recorded time.
	assert.Less(t, result.TimeSeconds, 0.2)
}

func TestEvaluator_ValidatesOptions(t *testing.T) {
	t.Parallel()

	source, err := dataset.NewMemory("letters", letters())
	require.NoError(t, err)

	_, err = New(Options{Dataset: source, Metrics: []metric.Metric{exactMatch()}})
	require.ErrorIs(t, err, ErrNoTask)

	_, err = New(Options{Task: upperTask(t), Metrics: []metric.Metric{exactMatch()}})
	require.ErrorIs(t, err, ErrNoDataset)

	_, err = New(Options{Task: upperTask(t), Dataset: source})
	require.ErrorIs(t, err, ErrNoMetrics)
}
