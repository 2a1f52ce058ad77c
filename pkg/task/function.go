package task

import (
	"context"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	mappingType = reflect.TypeOf(map[string]any{})
)

// functionAdapter invokes a plain Go function through reflection,
// binding arguments per its ParamSpec.
type functionAdapter struct {
	fn       reflect.Value
	spec     ParamSpec
	takesCtx bool
	monitor  *blockMonitor
	identity string
}

// newFunctionAdapter validates the declared parameter names against the
// function signature and builds the adapter.
func newFunctionAdapter(fn reflect.Value, paramNames []string, monitor *blockMonitor) (*functionAdapter, error) {
	fnType := fn.Type()

	numIn := fnType.NumIn()
	offset := 0

	if numIn > 0 && fnType.In(0) == contextType {
		offset = 1
	}

	spec := ParamSpec{Names: paramNames}

	// A trailing map[string]any not covered by a declared name is the
	// catch-all bag.
	declared := numIn - offset
	if declared == len(paramNames)+1 && fnType.In(numIn-1) == mappingType {
		spec.Catchall = true
		declared--
	}

	if declared != len(paramNames) {
		return nil, fmt.Errorf("%w: %d declared names for %d parameters", ErrBadParamSpec, len(paramNames), declared)
	}

	if fnType.NumOut() < 1 || fnType.NumOut() > 2 {
		return nil, fmt.Errorf("%w: task functions return (output) or (output, error)", ErrBadParamSpec)
	}

	if fnType.NumOut() == 2 && !fnType.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("%w: second return value must be error", ErrBadParamSpec)
	}

	return &functionAdapter{
		fn:       fn,
		spec:     spec,
		takesCtx: offset == 1,
		monitor:  monitor,
		identity: funcIdentity(fn),
	}, nil
}

// Spec exposes the normalized parameter specification.
func (a *functionAdapter) Spec() ParamSpec {
	return a.spec
}

func (a *functionAdapter) Invoke(ctx context.Context, call Call) (any, error) {
	bound := Resolve(a.spec, call.Input, call.Model, call.TraceID)

	return invokeMonitored(ctx, a.monitor, a.identity, func(ctx context.Context) (any, error) {
		return a.call(ctx, bound)
	})
}

func (a *functionAdapter) call(ctx context.Context, bound Bound) (any, error) {
	fnType := a.fn.Type()
	args := make([]reflect.Value, 0, fnType.NumIn())

	next := 0
	if a.takesCtx {
		args = append(args, reflect.ValueOf(ctx))
		next = 1
	}

	for i, name := range a.spec.Names {
		paramType := fnType.In(next + i)

		value, err := argValue(bound.Named[name], paramType, name)
		if err != nil {
			return nil, err
		}

		args = append(args, value)
	}

	if a.spec.Catchall {
		bag := bound.Catchall
		if bag == nil {
			bag = map[string]any{}
		}

		args = append(args, reflect.ValueOf(bag))
	}

	results := a.fn.Call(args)

	if len(results) == 2 && !results[1].IsNil() {
		callErr, ok := results[1].Interface().(error)
		if ok {
			return nil, callErr
		}
	}

	return results[0].Interface(), nil
}

// argValue converts a resolved value into the parameter's type.
// Unbound parameters become their zero value.
func argValue(raw any, paramType reflect.Type, name string) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(paramType), nil
	}

	value := reflect.ValueOf(raw)

	if value.Type().AssignableTo(paramType) {
		return value, nil
	}

	if value.Type().ConvertibleTo(paramType) {
		return value.Convert(paramType), nil
	}

	return reflect.Value{}, fmt.Errorf("%w: parameter %s wants %s, got %T", ErrBadParamSpec, name, paramType, raw)
}

func (a *functionAdapter) Identity() string {
	return a.identity
}

func (a *functionAdapter) Close() error {
	a.monitor.close()

	return nil
}
