package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// maxPayloadAttrLen bounds string attribute values on exported spans.
// Eval inputs and outputs can be arbitrarily large; the checkpoint holds
// the full text, the trace only needs enough to identify the item.
const maxPayloadAttrLen = 4096

// truncationMarker is appended to truncated attribute values.
const truncationMarker = "...[truncated]"

// payloadFilter is a SpanProcessor that truncates oversized string
// attributes before forwarding to a delegate processor.
type payloadFilter struct {
	delegate sdktrace.SpanProcessor
}

// NewPayloadFilter returns a SpanProcessor that bounds string attribute
// sizes on exported spans.
func NewPayloadFilter(delegate sdktrace.SpanProcessor) sdktrace.SpanProcessor {
	return &payloadFilter{delegate: delegate}
}

// OnStart delegates to the wrapped processor.
func (f *payloadFilter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	f.delegate.OnStart(parent, s)
}

// OnEnd truncates attributes, then delegates to the wrapped processor.
func (f *payloadFilter) OnEnd(s sdktrace.ReadOnlySpan) {
	// ReadOnlySpan attributes cannot be mutated; wrap with a bounded view.
	f.delegate.OnEnd(&boundedSpan{ReadOnlySpan: s})
}

// Shutdown delegates to the wrapped processor.
func (f *payloadFilter) Shutdown(ctx context.Context) error {
	err := f.delegate.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("payload filter shutdown: %w", err)
	}

	return nil
}

// ForceFlush delegates to the wrapped processor.
func (f *payloadFilter) ForceFlush(ctx context.Context) error {
	err := f.delegate.ForceFlush(ctx)
	if err != nil {
		return fmt.Errorf("payload filter flush: %w", err)
	}

	return nil
}

// boundedSpan wraps a ReadOnlySpan and returns size-bounded attributes.
type boundedSpan struct {
	sdktrace.ReadOnlySpan
}

// Attributes returns the attributes with oversized strings truncated.
func (s *boundedSpan) Attributes() []attribute.KeyValue {
	orig := s.ReadOnlySpan.Attributes()
	bounded := make([]attribute.KeyValue, 0, len(orig))

	for _, kv := range orig {
		if kv.Value.Type() == attribute.STRING {
			if v := kv.Value.AsString(); len(v) > maxPayloadAttrLen {
				kv = attribute.String(string(kv.Key), v[:maxPayloadAttrLen]+truncationMarker)
			}
		}

		bounded = append(bounded, kv)
	}

	return bounded
}
