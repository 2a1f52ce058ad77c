package task

// Reserved parameter names bound by the runner rather than the dataset.
const (
	paramModel     = "model"
	paramModelName = "model_name"
	paramTraceID   = "trace_id"
)

// ParamSpec is the normalized description of a function task's
// parameters: reserved-name bindings, ordered ordinary parameters, and
// the catch-all flag.
type ParamSpec struct {
	// Names lists the declared parameter names in order, excluding a
	// leading context.Context and a trailing catch-all bag.
	Names []string

	// Catchall reports whether the function accepts a trailing
	// map[string]any bag for unmatched values.
	Catchall bool
}

// Ordinary returns the non-reserved parameter names in order.
func (spec ParamSpec) Ordinary() []string {
	ordinary := make([]string, 0, len(spec.Names))

	for _, name := range spec.Names {
		if isReserved(name) {
			continue
		}

		ordinary = append(ordinary, name)
	}

	return ordinary
}

// ModelParam returns the declared reserved model parameter name, or "".
func (spec ParamSpec) ModelParam() string {
	for _, name := range spec.Names {
		if name == paramModel || name == paramModelName {
			return name
		}
	}

	return ""
}

// HasTraceID reports whether a trace_id parameter is declared.
func (spec ParamSpec) HasTraceID() bool {
	for _, name := range spec.Names {
		if name == paramTraceID {
			return true
		}
	}

	return false
}

func isReserved(name string) bool {
	return name == paramModel || name == paramModelName || name == paramTraceID
}

// Bound is the result of argument resolution: values for named
// parameters plus the catch-all bag. Parameters absent from Named stay
// unbound (zero value).
type Bound struct {
	// Named maps declared parameter names (reserved and ordinary) to
	// their resolved values.
	Named map[string]any

	// Catchall holds unmatched values when the spec has a catch-all.
	Catchall map[string]any
}

// Resolve deterministically binds an input payload plus the reserved
// model and trace id onto a ParamSpec. It is a pure function: same
// inputs, same binding.
func Resolve(spec ParamSpec, input any, model, traceID string) Bound {
	bound := Bound{Named: make(map[string]any)}

	if spec.Catchall {
		bound.Catchall = make(map[string]any)
	}

	bindReserved(spec, &bound, model, traceID)

	if mapping, ok := input.(map[string]any); ok {
		bindMapping(spec, &bound, mapping)

		return bound
	}

	bindValue(spec, &bound, input)

	return bound
}

func bindReserved(spec ParamSpec, bound *Bound, model, traceID string) {
	if name := spec.ModelParam(); name != "" {
		bound.Named[name] = model
	} else if spec.Catchall && model != "" {
		bound.Catchall[paramModel] = model
	}

	if spec.HasTraceID() {
		bound.Named[paramTraceID] = traceID
	} else if spec.Catchall && traceID != "" {
		bound.Catchall[paramTraceID] = traceID
	}
}

func bindMapping(spec ParamSpec, bound *Bound, mapping map[string]any) {
	ordinary := spec.Ordinary()

	matches := false

	for _, name := range ordinary {
		if _, found := mapping[name]; found {
			matches = true

			break
		}
	}

	if matches {
		// Unpack: matching keys bind by name, the rest flow to the
		// catch-all when present.
		ordinarySet := make(map[string]bool, len(ordinary))
		for _, name := range ordinary {
			ordinarySet[name] = true
		}

		for key, value := range mapping {
			if ordinarySet[key] {
				bound.Named[key] = value
			} else if spec.Catchall {
				bound.Catchall[key] = value
			}
		}

		return
	}

	// No key matches: a single ordinary parameter takes the whole
	// mapping; zero ordinary parameters take nothing.
	if len(ordinary) == 1 {
		bound.Named[ordinary[0]] = mapping
	}
}

func bindValue(spec ParamSpec, bound *Bound, input any) {
	ordinary := spec.Ordinary()

	if len(ordinary) >= 1 {
		bound.Named[ordinary[0]] = input
	}
}
