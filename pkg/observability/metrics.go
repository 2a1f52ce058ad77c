package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricItemsTotal    = "qym.items.total"
	metricItemDuration  = "qym.item.duration.seconds"
	metricQueueDrops    = "qym.platform.queue.drops"
	metricInflightItems = "qym.inflight.items"

	attrRun    = "run"
	attrStatus = "status"

	// StatusCompleted marks a successfully scored item.
	StatusCompleted = "completed"

	// StatusFailed marks an errored item.
	StatusFailed = "failed"
)

// durationBucketBoundaries covers 10ms to 600s; tasks range from local
// functions to slow remote model calls.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// RunMetrics holds the OTel instruments for evaluation runs.
type RunMetrics struct {
	itemsTotal    metric.Int64Counter
	itemDuration  metric.Float64Histogram
	queueDrops    metric.Int64Counter
	inflightItems metric.Int64UpDownCounter
}

// NewRunMetrics creates run metric instruments from the given meter.
func NewRunMetrics(mt metric.Meter) (*RunMetrics, error) {
	itemsTotal, err := mt.Int64Counter(metricItemsTotal,
		metric.WithDescription("Total number of evaluated items"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricItemsTotal, err)
	}

	itemDuration, err := mt.Float64Histogram(metricItemDuration,
		metric.WithDescription("Per-item evaluation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricItemDuration, err)
	}

	queueDrops, err := mt.Int64Counter(metricQueueDrops,
		metric.WithDescription("Events dropped from the platform queue"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricQueueDrops, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightItems,
		metric.WithDescription("Number of in-flight items"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightItems, err)
	}

	return &RunMetrics{
		itemsTotal:    itemsTotal,
		itemDuration:  itemDuration,
		queueDrops:    queueDrops,
		inflightItems: inflight,
	}, nil
}

// RecordItem records a finished item with its run, status, and duration.
func (rm *RunMetrics) RecordItem(ctx context.Context, run, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrRun, run),
		attribute.String(attrStatus, status),
	)

	rm.itemsTotal.Add(ctx, 1, attrs)
	rm.itemDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordQueueDrop records one dropped platform event.
func (rm *RunMetrics) RecordQueueDrop(ctx context.Context, run string) {
	rm.queueDrops.Add(ctx, 1, metric.WithAttributes(attribute.String(attrRun, run)))
}

// TrackInflight increments the in-flight gauge and returns a function
// to decrement it.
func (rm *RunMetrics) TrackInflight(ctx context.Context, run string) func() {
	attrs := metric.WithAttributes(attribute.String(attrRun, run))
	rm.inflightItems.Add(ctx, 1, attrs)

	return func() {
		rm.inflightItems.Add(ctx, -1, attrs)
	}
}
