// Package task normalizes heterogeneous user-supplied tasks behind a
// uniform adapter interface.
//
// Three task shapes are supported, detected in priority order at
// construction:
//  1. Chain — anything with an Invoke method over a mapping input.
//  2. Client — anything with a Create method over call parameters.
//  3. Function — a plain Go function, bound through a [ParamSpec].
//
// Cooperative tasks (declared via [WithCooperative]) additionally run
// under a heartbeat monitor that detects scheduler-blocking callables
// and warns once per callable identity.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
)

// Sentinel construction errors.
var (
	// ErrUnsupportedTaskType is returned when no adapter shape matches.
	ErrUnsupportedTaskType = errors.New("unsupported task type")

	// ErrBadParamSpec is returned when a ParamSpec disagrees with the
	// function signature it describes.
	ErrBadParamSpec = errors.New("param spec does not match function signature")
)

// Chain is the chain-like task shape: a single Invoke method taking a
// mapping input.
type Chain interface {
	Invoke(ctx context.Context, input map[string]any) (any, error)
}

// Client is the API-client-like task shape: a single Create operation
// over call parameters.
type Client interface {
	Create(ctx context.Context, params map[string]any) (any, error)
}

// Call carries everything an adapter may bind into a task invocation.
type Call struct {
	// Input is the item input, value or mapping.
	Input any

	// Model is the full, provider-prefixed model string.
	Model string

	// TraceID identifies the tracing span for this invocation.
	TraceID string
}

// Adapter is the uniform async-call interface over user tasks.
type Adapter interface {
	// Invoke runs the task for one item and returns its output verbatim.
	Invoke(ctx context.Context, call Call) (any, error)

	// Identity returns a stable identifier for the underlying callable,
	// used to de-duplicate blocking warnings.
	Identity() string

	// Close releases the heartbeat monitor, if any.
	Close() error
}

// Option configures adapter construction.
type Option func(*options)

type options struct {
	cooperative bool
	paramNames  []string
	logger      *slog.Logger
}

// WithCooperative declares the task cooperative-concurrent: it promises
// to run without blocking and is probed for violations.
func WithCooperative() Option {
	return func(o *options) { o.cooperative = true }
}

// WithParamNames names a function task's parameters in declaration
// order (excluding a leading context.Context and a trailing
// map[string]any catch-all). Reserved names "model", "model_name", and
// "trace_id" are bound by the runner.
func WithParamNames(names ...string) Option {
	return func(o *options) { o.paramNames = names }
}

// WithLogger sets the logger used for blocking warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New auto-detects the task shape and builds the matching adapter.
func New(userTask any, opts ...Option) (Adapter, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var monitor *blockMonitor
	if o.cooperative {
		monitor = newBlockMonitor(o.logger)
	}

	if chain, ok := userTask.(Chain); ok {
		return &chainAdapter{chain: chain, monitor: monitor}, nil
	}

	if client, ok := userTask.(Client); ok {
		return &clientAdapter{client: client, monitor: monitor}, nil
	}

	value := reflect.ValueOf(userTask)
	if value.IsValid() && value.Kind() == reflect.Func {
		return newFunctionAdapter(value, o.paramNames, monitor)
	}

	if monitor != nil {
		monitor.close()
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedTaskType, userTask)
}

type chainAdapter struct {
	chain   Chain
	monitor *blockMonitor
}

func (a *chainAdapter) Invoke(ctx context.Context, call Call) (any, error) {
	input := asMapping(call.Input)

	return invokeMonitored(ctx, a.monitor, a.Identity(), func(ctx context.Context) (any, error) {
		return a.chain.Invoke(ctx, input)
	})
}

func (a *chainAdapter) Identity() string {
	return fmt.Sprintf("%T", a.chain)
}

func (a *chainAdapter) Close() error {
	a.monitor.close()

	return nil
}

type clientAdapter struct {
	client  Client
	monitor *blockMonitor
}

func (a *clientAdapter) Invoke(ctx context.Context, call Call) (any, error) {
	params := asMapping(call.Input)

	if call.Model != "" {
		params["model"] = call.Model
	}

	return invokeMonitored(ctx, a.monitor, a.Identity(), func(ctx context.Context) (any, error) {
		return a.client.Create(ctx, params)
	})
}

func (a *clientAdapter) Identity() string {
	return fmt.Sprintf("%T", a.client)
}

func (a *clientAdapter) Close() error {
	a.monitor.close()

	return nil
}

// asMapping coerces an input value into the mapping form Chain and
// Client tasks consume. Non-mapping inputs travel under "input".
func asMapping(input any) map[string]any {
	if m, ok := input.(map[string]any); ok {
		cloned := make(map[string]any, len(m))
		for k, v := range m {
			cloned[k] = v
		}

		return cloned
	}

	return map[string]any{"input": input}
}

// funcIdentity resolves a stable name for a function value.
func funcIdentity(fn reflect.Value) string {
	rf := runtime.FuncForPC(fn.Pointer())
	if rf != nil {
		return rf.Name()
	}

	return fmt.Sprintf("func@%#x", fn.Pointer())
}
