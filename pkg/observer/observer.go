// Package observer defines the lifecycle event stream a run emits and
// the fan-out bus that delivers it to passive sinks.
package observer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/qym-labs/qym/pkg/score"
)

// EventType names one lifecycle event. The set is a stable wire
// contract shared with the platform stream.
type EventType string

// Lifecycle event vocabulary.
const (
	RunStarted     EventType = "run_started"
	ItemStarted    EventType = "item_started"
	MetricScored   EventType = "metric_scored"
	ItemCompleted  EventType = "item_completed"
	ItemFailed     EventType = "item_failed"
	MetadataUpdate EventType = "metadata_update"
	RunCompleted   EventType = "run_completed"
)

// Critical reports whether an event must never be dropped on queue
// overflow.
func (t EventType) Critical() bool {
	return t == RunStarted || t == RunCompleted
}

// Event is one lifecycle notification. Observers must treat it as
// read-only.
type Event struct {
	Type    EventType `json:"event_type"`
	RunName string    `json:"run_name"`
	Time    time.Time `json:"timestamp"`

	// Item fields, set for item-scoped events.
	ItemID string `json:"item_id,omitempty"`
	Index  int    `json:"index,omitempty"`

	// Metric fields, set for metric_scored.
	Metric string      `json:"metric,omitempty"`
	Score  score.Score `json:"score,omitzero"`

	// Payload carries event-specific extras: latency_ms,
	// task_started_at_ms, error_message, counts, urls.
	Payload map[string]any `json:"payload,omitempty"`
}

// Observer is a passive sink for lifecycle events.
type Observer interface {
	// Observe handles one event. Errors are logged by the bus and
	// never propagate to the run.
	Observe(event Event) error
}

// Bus fans out each event to an ordered observer list. A failing
// observer is logged and skipped so a broken sink cannot kill the run.
type Bus struct {
	observers []Observer
	logger    *slog.Logger
}

// NewBus creates a bus over the given observers.
func NewBus(logger *slog.Logger, observers ...Observer) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{observers: observers, logger: logger}
}

// Attach appends an observer. Not safe to call once events flow.
func (b *Bus) Attach(obs Observer) {
	b.observers = append(b.observers, obs)
}

// Emit delivers the event to every observer in order. A failing or
// panicking observer is logged and skipped.
func (b *Bus) Emit(event Event) {
	for _, obs := range b.observers {
		err := b.observe(obs, event)
		if err != nil {
			b.logger.Warn("observer failed",
				"event", string(event.Type),
				"error", err)
		}
	}
}

// observe calls one observer, converting a panic into an error.
func (b *Bus) observe(obs Observer, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("observer panic: %v", recovered)
		}
	}()

	return obs.Observe(event)
}

// Func adapts a function to the Observer interface.
type Func func(Event) error

// Observe implements Observer.
func (f Func) Observe(event Event) error {
	return f(event)
}
