// Package eval implements the evaluation scheduler: a bounded worker
// pool driving dataset items through task and metrics, a single writer
// goroutine owning run state and the checkpoint file, and lifecycle
// event fan-out to observers.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/qym-labs/qym/pkg/checkpoint"
	"github.com/qym-labs/qym/pkg/config"
	"github.com/qym-labs/qym/pkg/dataset"
	"github.com/qym-labs/qym/pkg/metric"
	"github.com/qym-labs/qym/pkg/observability"
	"github.com/qym-labs/qym/pkg/observer"
	"github.com/qym-labs/qym/pkg/platform"
	"github.com/qym-labs/qym/pkg/run"
	"github.com/qym-labs/qym/pkg/runid"
	"github.com/qym-labs/qym/pkg/score"
	"github.com/qym-labs/qym/pkg/task"
)

// Sentinel errors.
var (
	// ErrNoTask is returned when no task adapter is configured.
	ErrNoTask = errors.New("no task configured")

	// ErrNoDataset is returned when no dataset source is configured.
	ErrNoDataset = errors.New("no dataset configured")

	// ErrNoMetrics is returned when the metric list is empty.
	ErrNoMetrics = errors.New("no metrics configured")

	// ErrResumeMismatch is returned when a resume checkpoint belongs to
	// a different dataset or metric set.
	ErrResumeMismatch = errors.New("checkpoint does not match this run")

	// ErrRerunErrorsUnsupported is returned when rerun_errors is
	// requested while appending to the same checkpoint file. Re-running
	// would append duplicate rows for the errored items.
	ErrRerunErrorsUnsupported = errors.New("rerun_errors is unsupported when appending to the same checkpoint")

	// ErrWriterFailed is returned when the checkpoint writer failed
	// mid-run; the run aborts to avoid silently losing rows.
	ErrWriterFailed = errors.New("checkpoint writer failed")

	// ErrItemTimeout marks an item that exceeded the per-item timeout.
	ErrItemTimeout = errors.New("task timed out")
)

// Options configures an Evaluator.
type Options struct {
	// Name is the evaluation name: run id base and checkpoint path
	// segment. Defaults to the dataset name.
	Name string

	// Task is the adapter wrapping the user task.
	Task task.Adapter

	// Dataset supplies the items.
	Dataset dataset.Source

	// Metrics are scored in declaration order.
	Metrics []metric.Metric

	// Config holds runner options. Nil means defaults.
	Config *config.Config

	// Model is this run's model string, provider prefix included.
	Model string

	// RunName overrides the derived run id. Used verbatim, no suffix.
	RunName string

	// Observers receive lifecycle events.
	Observers []observer.Observer

	// Stream is the optional platform event stream.
	Stream *platform.Stream

	// Tracer creates item and metric spans. Nil means no-op.
	Tracer trace.Tracer

	// TraceURLBase, when set, turns each item's trace id into a
	// clickable link: "{base}/{trace_id}".
	TraceURLBase string

	// Logger is the structured logger. Nil means slog.Default.
	Logger *slog.Logger

	// RunMetrics are optional telemetry instruments.
	RunMetrics *observability.RunMetrics

	// Generator derives run ids. Nil creates a private one.
	Generator *runid.Generator

	// Clock is injectable for tests.
	Clock func() time.Time
}

// Evaluator runs one dataset through one task and metric list.
type Evaluator struct {
	name    string
	adapter task.Adapter
	source  dataset.Source
	metrics []metric.Metric
	cfg     *config.Config
	model   string
	runName string

	bus          *observer.Bus
	stream       *platform.Stream
	tracer       trace.Tracer
	traceURLBase string
	logger       *slog.Logger
	runMetrics   *observability.RunMetrics
	generator    *runid.Generator
	clock        func() time.Time
}

// New validates options and builds an Evaluator.
func New(opts Options) (*Evaluator, error) {
	if opts.Task == nil {
		return nil, ErrNoTask
	}

	if opts.Dataset == nil {
		return nil, ErrNoDataset
	}

	if len(opts.Metrics) == 0 {
		return nil, ErrNoMetrics
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadConfig("")
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	name := opts.Name
	if name == "" {
		name = opts.Dataset.Name()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("qym")
	}

	generator := opts.Generator
	if generator == nil {
		generator = runid.NewGenerator()
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	bus := observer.NewBus(logger, opts.Observers...)
	if opts.Stream != nil {
		bus.Attach(opts.Stream)
	}

	return &Evaluator{
		name:       name,
		adapter:    opts.Task,
		source:     opts.Dataset,
		metrics:    opts.Metrics,
		cfg:        cfg,
		model:      opts.Model,
		runName:    opts.RunName,
		bus:          bus,
		stream:       opts.Stream,
		tracer:       tracer,
		traceURLBase: strings.TrimRight(opts.TraceURLBase, "/"),
		logger:       logger,
		runMetrics:   opts.RunMetrics,
		generator:    generator,
		clock:        clock,
	}, nil
}

// pendingItem is one unit of work. A stop entry tells a worker to exit.
type pendingItem struct {
	index int
	item  dataset.Item
	stop  bool
}

// writeMsg carries one finished item from a worker to the writer.
type writeMsg struct {
	itemID  string
	row     checkpoint.Row
	result  *run.ItemResult
	itemErr *run.ItemError
	latency time.Duration
}

// Run evaluates every pending item and returns the finalized state.
// Cancelling ctx is the interrupt signal: queued work is dropped,
// in-flight items get the configured grace period, partial progress
// stays durable in the checkpoint.
func (e *Evaluator) Run(ctx context.Context) (*run.State, error) {
	items, itemsErr := e.source.Items()
	if itemsErr != nil {
		return nil, fmt.Errorf("load dataset: %w", itemsErr)
	}

	metricNames := make([]string, len(e.metrics))
	for i, m := range e.metrics {
		metricNames[i] = m.Name()
	}

	resumed, resumeErr := e.loadResumeState(metricNames)
	if resumeErr != nil {
		return nil, resumeErr
	}

	runName := e.resolveRunName(resumed)
	pending := pendingWork(items, resumed)

	state := run.NewState(runName, e.source.Name(), e.model, metricNames)
	state.MergeMetadata(e.cfg.Run.Metadata)
	state.SetConfig(e.runConfig())

	if resumed != nil {
		replayRows(state, resumed)
	}

	writer, writerErr := e.openCheckpoint(runName, metricNames, resumed)
	if writerErr != nil {
		return nil, writerErr
	}

	e.announceRun(ctx, state, len(items), len(pending))

	runErr := e.runPool(ctx, state, writer, pending)

	e.finalize(ctx, state, writer)

	return state, runErr
}

// loadResumeState loads and validates the resume checkpoint, if any.
func (e *Evaluator) loadResumeState(metricNames []string) (*checkpoint.State, error) {
	resumeFrom := e.cfg.Checkpoint.ResumeFrom
	if resumeFrom == "" {
		return nil, nil
	}

	if e.cfg.Checkpoint.RerunErrors {
		return nil, ErrRerunErrorsUnsupported
	}

	resumed, loadErr := checkpoint.Load(resumeFrom)
	if loadErr != nil {
		return nil, fmt.Errorf("load resume checkpoint: %w", loadErr)
	}

	if resumed.DatasetName != "" && resumed.DatasetName != e.source.Name() {
		return nil, fmt.Errorf("%w: checkpoint dataset %q, run dataset %q",
			ErrResumeMismatch, resumed.DatasetName, e.source.Name())
	}

	if len(resumed.Metrics) > 0 && !slices.Equal(resumed.Metrics, metricNames) {
		return nil, fmt.Errorf("%w: checkpoint metrics %v, run metrics %v",
			ErrResumeMismatch, resumed.Metrics, metricNames)
	}

	return resumed, nil
}

// resolveRunName picks the run id: explicit override, resumed name, or
// a derived one.
func (e *Evaluator) resolveRunName(resumed *checkpoint.State) string {
	if e.runName != "" {
		e.generator.Reserve(e.runName)

		return e.runName
	}

	if resumed != nil && resumed.RunName != "" {
		e.generator.Reserve(resumed.RunName)

		return resumed.RunName
	}

	return e.generator.Derive(e.name, e.model)
}

// pendingWork filters out items already attempted in the checkpoint.
// When every recorded id is synthetic, ids are positional: the first
// len(completed) items are considered done.
func pendingWork(items []dataset.Item, resumed *checkpoint.State) []pendingItem {
	pending := make([]pendingItem, 0, len(items))

	if resumed == nil {
		for i, item := range items {
			pending = append(pending, pendingItem{index: i, item: item})
		}

		return pending
	}

	if resumed.SyntheticIDs {
		for i := len(resumed.Completed); i < len(items); i++ {
			pending = append(pending, pendingItem{index: i, item: items[i]})
		}

		return pending
	}

	done := resumed.CompletedSet()

	for i, item := range items {
		if done[item.EffectiveID(i)] {
			continue
		}

		pending = append(pending, pendingItem{index: i, item: item})
	}

	return pending
}

// replayRows loads checkpointed outcomes into the state so the final
// results cover the whole dataset, not just this session's items.
func replayRows(state *run.State, resumed *checkpoint.State) {
	for _, row := range resumed.Rows {
		if row.IsError() {
			state.AddError(row.ItemID, run.ItemError{
				Input:           row.Input,
				Message:         row.Err,
				TraceID:         row.TraceID,
				TaskStartedAtMS: row.TaskStartedAtMS,
			})

			continue
		}

		state.AddResult(row.ItemID, run.ItemResult{
			Input:           row.Input,
			Output:          row.Output,
			Expected:        row.Expected,
			Scores:          row.Scores,
			TraceID:         row.TraceID,
			TimeSeconds:     row.TimeSeconds,
			TaskStartedAtMS: row.TaskStartedAtMS,
		})
	}
}

// openCheckpoint opens the append-only row log. Resume reuses the
// original file; fresh runs get the conventional path.
func (e *Evaluator) openCheckpoint(runName string, metricNames []string, resumed *checkpoint.State) (*checkpoint.Writer, error) {
	if !e.cfg.Checkpoint.Enabled {
		return nil, nil
	}

	path := runid.CheckpointPath(e.cfg.Run.OutputDir, e.name, e.model, e.clock(), runName)
	if resumed != nil {
		path = resumed.Path
	}

	var opts []checkpoint.WriterOption
	if e.cfg.Checkpoint.Fsync {
		opts = append(opts, checkpoint.WithFsync())
	}

	if !e.cfg.Checkpoint.FlushEachItem {
		opts = append(opts, checkpoint.WithBufferedWrites())
	}

	writer, err := checkpoint.NewWriter(path, metricNames, opts...)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	return writer, nil
}

// announceRun performs the platform handshake and emits run_started.
func (e *Evaluator) announceRun(ctx context.Context, state *run.State, total, pending int) {
	startPayload := map[string]any{
		"total_items":   total,
		"pending_items": pending,
		"dataset_name":  state.DatasetName(),
		"model":         e.model,
		"metrics":       state.Metrics(),
	}

	if e.stream != nil {
		liveURL, handshakeErr := e.stream.CreateRun(ctx, state.RunName(), state.Metadata())
		if handshakeErr == nil && liveURL != "" {
			state.MergeMetadata(map[string]any{"live_url": liveURL})
			e.bus.Emit(observer.Event{
				Type:    observer.MetadataUpdate,
				RunName: state.RunName(),
				Time:    e.clock(),
				Payload: map[string]any{"live_url": liveURL},
			})
		}

		// Run boundaries are delivered synchronously so the platform
		// always sees them.
		_ = e.stream.EmitSync(ctx, observer.Event{
			Type:    observer.RunStarted,
			RunName: state.RunName(),
			Time:    e.clock(),
			Payload: startPayload,
		})
	}

	e.bus.Emit(observer.Event{
		Type:    observer.RunStarted,
		RunName: state.RunName(),
		Time:    e.clock(),
		Payload: startPayload,
	})
}

// runPool drives the worker pool and writer to completion.
func (e *Evaluator) runPool(ctx context.Context, state *run.State, writer *checkpoint.Writer, pending []pendingItem) error {
	workers := e.cfg.Run.MaxConcurrency

	workCh := make(chan pendingItem, len(pending)+workers)
	for _, p := range pending {
		workCh <- p
	}

	// One stop entry per worker follows the real work.
	for i := 0; i < workers; i++ {
		workCh <- pendingItem{stop: true}
	}

	close(workCh)

	writeCh := make(chan writeMsg, workers)

	// taskCtx outlives an interrupt by the grace period so in-flight
	// items can finish.
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()

	poolDone := make(chan struct{})

	go e.watchInterrupt(ctx, state, cancelTasks, poolDone)

	var writerFailed atomic.Bool

	var workerWG sync.WaitGroup

	for i := 0; i < workers; i++ {
		workerWG.Add(1)

		go func() {
			defer workerWG.Done()

			for entry := range workCh {
				if entry.stop {
					return
				}

				if ctx.Err() != nil {
					// Interrupted: drain without processing.
					continue
				}

				writeCh <- e.processItem(taskCtx, state, entry)
			}
		}()
	}

	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)

		for msg := range writeCh {
			e.recordOutcome(state, writer, msg, &writerFailed, cancelTasks)
		}
	}()

	workerWG.Wait()
	close(writeCh)
	<-writerDone
	close(poolDone)

	// The watcher goroutine also sets this, but it is not joined;
	// record the interrupt here so finalization always sees it.
	if ctx.Err() != nil {
		state.SetInterrupted()
	}

	if writerFailed.Load() {
		return ErrWriterFailed
	}

	return nil
}

// watchInterrupt marks the run interrupted when ctx is cancelled and
// cancels in-flight tasks after the grace period.
func (e *Evaluator) watchInterrupt(ctx context.Context, state *run.State, cancelTasks context.CancelFunc, poolDone chan struct{}) {
	select {
	case <-ctx.Done():
	case <-poolDone:
		return
	}

	state.SetInterrupted()
	e.logger.Info("interrupt received, draining queued work",
		"run", state.RunName(),
		"grace_seconds", e.cfg.Run.InterruptGraceSeconds)

	grace := time.Duration(e.cfg.Run.InterruptGraceSeconds) * time.Second
	timer := time.NewTimer(grace)

	defer timer.Stop()

	select {
	case <-timer.C:
		cancelTasks()
	case <-poolDone:
	}
}

// recordOutcome applies one finished item on the writer goroutine: the
// checkpoint row first, then the in-memory state.
func (e *Evaluator) recordOutcome(state *run.State, writer *checkpoint.Writer, msg writeMsg, writerFailed *atomic.Bool, cancelTasks context.CancelFunc) {
	if writer != nil {
		appendErr := writer.Append(msg.row)
		if appendErr != nil && !writerFailed.Load() {
			writerFailed.Store(true)
			e.logger.Error("checkpoint append failed, aborting run",
				"item", msg.itemID,
				"error", appendErr)
			cancelTasks()
		}
	}

	status := observability.StatusCompleted

	if msg.itemErr != nil {
		state.AddError(msg.itemID, *msg.itemErr)

		status = observability.StatusFailed
	} else {
		state.AddResult(msg.itemID, *msg.result)
	}

	if e.runMetrics != nil {
		e.runMetrics.RecordItem(context.Background(), state.RunName(), status, msg.latency)
	}
}

// processItem runs one item through the task and metrics, emitting the
// per-item event sequence.
func (e *Evaluator) processItem(taskCtx context.Context, state *run.State, entry pendingItem) writeMsg {
	itemID := entry.item.EffectiveID(entry.index)
	runName := state.RunName()

	if e.runMetrics != nil {
		done := e.runMetrics.TrackInflight(context.Background(), runName)
		defer done()
	}

	spanName := fmt.Sprintf("eval-%s-item-%d", runName, entry.index)

	ctx, span := e.tracer.Start(taskCtx, spanName, trace.WithAttributes(
		attribute.String("item_id", itemID),
		attribute.Int("index", entry.index),
		attribute.String("input", attrJSON(entry.item.Input)),
	))
	defer span.End()

	var traceID string
	if sc := span.SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
	}

	e.bus.Emit(observer.Event{
		Type:    observer.ItemStarted,
		RunName: runName,
		Time:    e.clock(),
		ItemID:  itemID,
		Index:   entry.index,
	})

	taskStartedAt := e.clock()
	taskStartedAtMS := taskStartedAt.UnixMilli()

	output, taskElapsed, invokeErr := e.invokeTask(ctx, entry.item, traceID)
	if invokeErr != nil {
		span.RecordError(invokeErr)
		span.SetStatus(codes.Error, invokeErr.Error())

		return e.failedItem(state, entry, itemID, traceID, taskStartedAt, invokeErr)
	}

	scores := e.scoreItem(ctx, runName, itemID, entry, output)

	latency := e.clock().Sub(taskStartedAt)

	e.bus.Emit(observer.Event{
		Type:    observer.ItemCompleted,
		RunName: runName,
		Time:    e.clock(),
		ItemID:  itemID,
		Index:   entry.index,
		Payload: map[string]any{
			"task_started_at_ms": taskStartedAtMS,
			"latency_ms":         latency.Milliseconds(),
		},
	})

	result := &run.ItemResult{
		Input:           entry.item.Input,
		Output:          output,
		Expected:        entry.item.Expected,
		Scores:          scores,
		TraceID:         traceID,
		TraceURL:        e.traceURL(traceID),
		TimeSeconds:     taskElapsed.Seconds(),
		TaskStartedAtMS: taskStartedAtMS,
	}

	return writeMsg{
		itemID:  itemID,
		row:     e.buildRow(state, entry, itemID, traceID, output, scores, taskElapsed, taskStartedAtMS),
		result:  result,
		latency: latency,
	}
}

// traceURL builds the viewer link for a trace id. Empty when either
// the id or the configured base is missing.
func (e *Evaluator) traceURL(traceID string) string {
	if traceID == "" || e.traceURLBase == "" {
		return ""
	}

	return e.traceURLBase + "/" + traceID
}

// invokeTask calls the adapter under the per-item timeout. The call
// runs on its own goroutine so a blocking task cannot pin the worker
// past the deadline.
func (e *Evaluator) invokeTask(ctx context.Context, item dataset.Item, traceID string) (output any, elapsed time.Duration, err error) {
	timeout := time.Duration(e.cfg.Run.TimeoutSeconds) * time.Second

	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type taskReturn struct {
		output any
		err    error
	}

	started := e.clock()
	resultCh := make(chan taskReturn, 1)

	go func() {
		out, invokeErr := e.adapter.Invoke(itemCtx, task.Call{
			Input:   item.Input,
			Model:   e.model,
			TraceID: traceID,
		})
		resultCh <- taskReturn{output: out, err: invokeErr}
	}()

	select {
	case ret := <-resultCh:
		elapsed = e.clock().Sub(started)

		if ret.err != nil {
			if errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
				return nil, elapsed, fmt.Errorf("%w after %ds", ErrItemTimeout, e.cfg.Run.TimeoutSeconds)
			}

			return nil, elapsed, fmt.Errorf("task: %w", ret.err)
		}

		return ret.output, elapsed, nil

	case <-itemCtx.Done():
		elapsed = e.clock().Sub(started)

		if errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
			return nil, elapsed, fmt.Errorf("%w after %ds", ErrItemTimeout, e.cfg.Run.TimeoutSeconds)
		}

		return nil, elapsed, fmt.Errorf("task cancelled: %w", itemCtx.Err())
	}
}

// scoreItem evaluates every metric in declaration order. A failing
// metric yields an error score, never a failed item.
func (e *Evaluator) scoreItem(ctx context.Context, runName, itemID string, entry pendingItem, output any) map[string]score.Score {
	scores := make(map[string]score.Score, len(e.metrics))

	sample := metric.Sample{
		Output:   output,
		Expected: entry.item.Expected,
		Input:    entry.item.Input,
	}

	for _, m := range e.metrics {
		mctx, mspan := e.tracer.Start(ctx, "metric_"+m.Name())

		sc, evalErr := m.Evaluate(mctx, sample)
		if evalErr != nil {
			sc = score.Errorf("metric %s: %v", m.Name(), evalErr)

			mspan.RecordError(evalErr)
			mspan.SetStatus(codes.Error, evalErr.Error())
		}

		mspan.End()

		scores[m.Name()] = sc

		e.bus.Emit(observer.Event{
			Type:    observer.MetricScored,
			RunName: runName,
			Time:    e.clock(),
			ItemID:  itemID,
			Index:   entry.index,
			Metric:  m.Name(),
			Score:   sc,
		})
	}

	return scores
}

// failedItem emits item_failed and builds the error row. The message is
// persisted verbatim; only displays truncate.
func (e *Evaluator) failedItem(state *run.State, entry pendingItem, itemID, traceID string, taskStartedAt time.Time, cause error) writeMsg {
	latency := e.clock().Sub(taskStartedAt)
	taskStartedAtMS := taskStartedAt.UnixMilli()

	e.bus.Emit(observer.Event{
		Type:    observer.ItemFailed,
		RunName: state.RunName(),
		Time:    e.clock(),
		ItemID:  itemID,
		Index:   entry.index,
		Payload: map[string]any{
			"error_message":      cause.Error(),
			"task_started_at_ms": taskStartedAtMS,
			"latency_ms":         latency.Milliseconds(),
		},
	})

	row := e.buildRow(state, entry, itemID, traceID, nil, nil, latency, taskStartedAtMS)
	row.Err = cause.Error()

	return writeMsg{
		itemID: itemID,
		row:    row,
		itemErr: &run.ItemError{
			Input:           entry.item.Input,
			Message:         cause.Error(),
			TraceID:         traceID,
			TaskStartedAtMS: taskStartedAtMS,
		},
		latency: latency,
	}
}

func (e *Evaluator) buildRow(state *run.State, entry pendingItem, itemID, traceID string, output any, scores map[string]score.Score, elapsed time.Duration, taskStartedAtMS int64) checkpoint.Row {
	return checkpoint.Row{
		DatasetName:     state.DatasetName(),
		RunName:         state.RunName(),
		RunMetadata:     state.Metadata(),
		RunConfig:       e.runConfig(),
		TraceID:         traceID,
		ItemID:          itemID,
		Input:           entry.item.Input,
		ItemMetadata:    entry.item.Metadata,
		Output:          output,
		Expected:        entry.item.Expected,
		TimeSeconds:     elapsed.Seconds(),
		TaskStartedAtMS: taskStartedAtMS,
		Scores:          scores,
	}
}

func (e *Evaluator) runConfig() map[string]any {
	return map[string]any{
		"max_concurrency": e.cfg.Run.MaxConcurrency,
		"timeout":         e.cfg.Run.TimeoutSeconds,
		"model":           e.model,
	}
}

// finalize closes the checkpoint, flushes the platform stream, and
// emits run_completed.
func (e *Evaluator) finalize(ctx context.Context, state *run.State, writer *checkpoint.Writer) {
	state.SetEndTime(e.clock())

	if writer != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			e.logger.Error("close checkpoint", "error", closeErr)
		}

		state.SetLastSavedPath(writer.Path())
	}

	stats := state.Stats()
	payload := map[string]any{
		"total":        stats.Total,
		"succeeded":    stats.Succeeded,
		"failed":       stats.Failed,
		"success_rate": stats.SuccessRate,
		"metric_means": stats.MetricMeans,
		"interrupted":  state.Interrupted(),
	}

	event := observer.Event{
		Type:    observer.RunCompleted,
		RunName: state.RunName(),
		Time:    e.clock(),
		Payload: payload,
	}

	if e.stream != nil {
		// Flush queued events, then deliver the boundary synchronously.
		// If the remote is slow these can observably race; delivery is
		// best-effort either way.
		_ = e.stream.Close()
		_ = e.stream.EmitSync(context.WithoutCancel(ctx), event)
	}

	e.bus.Emit(event)
}

// attrJSON renders a value for span attributes. Oversized values are
// truncated at export by the payload filter.
func attrJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	return string(data)
}
