package eval

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-labs/qym/pkg/dataset"
	"github.com/qym-labs/qym/pkg/metric"
	"github.com/qym-labs/qym/pkg/task"
)

func TestFanOut(t *testing.T) {
	t.Parallel()

	base := RunSpec{Name: "qa"}
	specs := FanOut(base, []string{"provider-a/m1", "provider-b/m2"})

	require.Len(t, specs, 2)
	assert.Equal(t, "provider-a/m1", specs[0].Model)
	assert.Equal(t, "provider-b/m2", specs[1].Model)
	assert.Equal(t, "qa", specs[1].Name)
}

func TestRunner_RunAllModels(t *testing.T) {
	t.Parallel()

	var models sync.Map

	adapter, err := task.New(func(input, model string) string {
		models.Store(model, true)

		return strings.ToUpper(input)
	}, task.WithParamNames("input", "model"))
	require.NoError(t, err)

	source, err := dataset.NewMemory("letters", letters()[:2])
	require.NoError(t, err)

	cfg := testConfig(t)
	runner := NewRunner(cfg)

	specs := FanOut(RunSpec{
		Name:    "qa",
		Task:    adapter,
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
	}, []string{"provider-a/m1", "provider-b/m2"})

	states, err := runner.RunAll(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, states, 2)

	// Each sub-run saw its own model and has its own checkpoint file.
	_, sawM1 := models.Load("provider-a/m1")
	_, sawM2 := models.Load("provider-b/m2")
	assert.True(t, sawM1)
	assert.True(t, sawM2)

	assert.NotEqual(t, states[0].RunName(), states[1].RunName())
	assert.NotEqual(t, states[0].LastSavedPath(), states[1].LastSavedPath())

	for _, state := range states {
		succeeded, failed := state.Counts()
		assert.Equal(t, 2, succeeded)
		assert.Zero(t, failed)
	}
}

func TestRunner_SequentialWhenLimitOne(t *testing.T) {
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

		return input
	}, task.WithParamNames("input"))
	require.NoError(t, err)

	source, err := dataset.NewMemory("letters", letters()[:2])
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Run.MaxConcurrency = 1
	cfg.Run.MaxParallelRuns = 1

	runner := NewRunner(cfg)

	specs := FanOut(RunSpec{
		Name:    "qa",
		Task:    adapter,
		Dataset: source,
		Metrics: []metric.Metric{exactMatch()},
	}, []string{"m1", "m2", "m3"})

	states, err := runner.RunAll(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, states, 3)

	// One run at a time, one worker per run.
	assert.LessOrEqual(t, maxInflight.Load(), int32(1))
}

func TestRunner_FailedSubRunDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	adapter, err := task.New(func(input string) string { return input }, task.WithParamNames("input"))
	require.NoError(t, err)

	good, err := dataset.NewMemory("letters", letters()[:1])
	require.NoError(t, err)

	// An empty dataset makes its sub-run fail structurally.
	bad, err := dataset.NewMemory("empty", nil)
	require.NoError(t, err)

	cfg := testConfig(t)
	runner := NewRunner(cfg)

	states, err := runner.RunAll(context.Background(), []RunSpec{
		{Name: "good", Task: adapter, Dataset: good, Metrics: []metric.Metric{exactMatch()}},
		{Name: "bad", Task: adapter, Dataset: bad, Metrics: []metric.Metric{exactMatch()}},
	})
	require.Error(t, err)
	require.Len(t, states, 2)

	require.NotNil(t, states[0])
	assert.Nil(t, states[1])

	succeeded, _ := states[0].Counts()
	assert.Equal(t, 1, succeeded)
}
