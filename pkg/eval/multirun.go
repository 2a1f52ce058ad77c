package eval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/qym-labs/qym/pkg/config"
	"github.com/qym-labs/qym/pkg/dataset"
	"github.com/qym-labs/qym/pkg/metric"
	"github.com/qym-labs/qym/pkg/observability"
	"github.com/qym-labs/qym/pkg/observer"
	"github.com/qym-labs/qym/pkg/platform"
	"github.com/qym-labs/qym/pkg/run"
	"github.com/qym-labs/qym/pkg/runid"
	"github.com/qym-labs/qym/pkg/task"
)

// RunSpec describes one sub-run of a multi-run execution. Each sub-run
// owns an independent evaluator, observer set, and checkpoint file.
type RunSpec struct {
	Name      string
	Task      task.Adapter
	Dataset   dataset.Source
	Metrics   []metric.Metric
	Model     string
	RunName   string
	Observers []observer.Observer
	Stream    *platform.Stream
}

// Runner executes several RunSpecs with bounded parallelism.
type Runner struct {
	cfg        *config.Config
	logger     *slog.Logger
	tracer     trace.Tracer
	runMetrics *observability.RunMetrics

	// generator is shared across sub-runs so simultaneous runs of the
	// same base and model still get unique ids.
	generator *runid.Generator

	clock func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunnerTracer sets the tracer shared by sub-runs.
func WithRunnerTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithRunnerMetrics sets the telemetry instruments shared by sub-runs.
func WithRunnerMetrics(rm *observability.RunMetrics) RunnerOption {
	return func(r *Runner) {
		r.runMetrics = rm
	}
}

// WithRunnerClock sets the clock, injectable for tests.
func WithRunnerClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.clock = clock
	}
}

// NewRunner creates a Runner over the given config.
func NewRunner(cfg *config.Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		logger:    slog.Default(),
		generator: runid.NewGenerator(),
		clock:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// FanOut expands a base spec into one spec per model.
func FanOut(base RunSpec, models []string) []RunSpec {
	specs := make([]RunSpec, 0, len(models))

	for _, model := range models {
		spec := base
		spec.Model = model
		specs = append(specs, spec)
	}

	return specs
}

// RunAll executes every spec, respecting max_parallel_runs: zero means
// all in parallel, one means sequential, N bounds concurrency. States
// are returned in spec order; a failed sub-run leaves a nil state and
// contributes to the joined error.
func (r *Runner) RunAll(ctx context.Context, specs []RunSpec) ([]*run.State, error) {
	states := make([]*run.State, len(specs))
	errs := make([]error, len(specs))

	limit := r.cfg.Run.MaxParallelRuns
	if limit <= 0 || limit > len(specs) {
		limit = len(specs)
	}

	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup

	for i, spec := range specs {
		i, spec := i, spec
		wg.Add(1)

		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			states[i], errs[i] = r.runOne(ctx, spec)
			if errs[i] != nil {
				r.logger.Error("sub-run failed",
					"name", spec.Name,
					"model", spec.Model,
					"error", errs[i])
			}
		}()
	}

	wg.Wait()

	return states, errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, spec RunSpec) (*run.State, error) {
	traceURLBase := ""
	if r.cfg.Platform.URL != "" {
		traceURLBase = r.cfg.Platform.URL + "/traces"
	}

	evaluator, newErr := New(Options{
		Name:         spec.Name,
		Task:         spec.Task,
		Dataset:      spec.Dataset,
		Metrics:      spec.Metrics,
		Config:       r.cfg,
		Model:        spec.Model,
		RunName:      spec.RunName,
		Observers:    spec.Observers,
		Stream:       spec.Stream,
		Tracer:       r.tracer,
		TraceURLBase: traceURLBase,
		Logger:       r.logger,
		RunMetrics:   r.runMetrics,
		Generator:    r.generator,
		Clock:        r.clock,
	})
	if newErr != nil {
		return nil, newErr
	}

	return evaluator.Run(ctx)
}
