// File: internal/registry/binding.go
package registry

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

// BindingKind is the classification of one exposed binding. Classification
// is purely structural: what a registered value can do decides what it is.
type BindingKind int

const (
	// KindValue is plain, read-only data.
	KindValue BindingKind = iota
	// KindAccessor is a paired get/set binding.
	KindAccessor
	// KindAction is an invocable function.
	KindAction
)

func (k BindingKind) String() string {
	switch k {
	case KindAccessor:
		return "accessor"
	case KindAction:
		return "action"
	default:
		return "value"
	}
}

// actionPlaceholder stands in for an action's "value" in snapshots; actions
// have no meaningful value, only invocation results.
const actionPlaceholder = "[action]"

// readErrorPlaceholder formats a failed binding read for discovery
// snapshots, which must never fail wholesale because one read threw.
func readErrorPlaceholder(err error) string {
	return fmt.Sprintf("[error: %v]", err)
}

// Accessor is the structural shape of a paired read/write binding. Get must
// return a fresh value on every call; the registry never caches reads.
type Accessor interface {
	Get() any
	Set(value any) error
}

// accessorFuncs adapts a get/set closure pair to the Accessor shape.
type accessorFuncs struct {
	get func() any
	set func(any) error
}

func (a accessorFuncs) Get() any            { return a.get() }
func (a accessorFuncs) Set(value any) error { return a.set(value) }

// NewAccessor wraps a get/set closure pair as a registrable accessor
// binding. Both closures are required.
func NewAccessor(get func() any, set func(any) error) Accessor {
	if get == nil || set == nil {
		panic("registry: NewAccessor requires both get and set")
	}
	return accessorFuncs{get: get, set: set}
}

// Classify determines the kind of a binding from its shape. An Accessor
// implementation is an accessor, any func is an action, everything else is a
// plain value.
func Classify(binding any) BindingKind {
	if binding == nil {
		return KindValue
	}
	if _, ok := binding.(Accessor); ok {
		return KindAccessor
	}
	if reflect.TypeOf(binding).Kind() == reflect.Func {
		return KindAction
	}
	return KindValue
}

// Resolve reads the current value of a binding: accessor reads call Get,
// actions resolve to a placeholder marker, plain values resolve to
// themselves. A panicking read is recovered and returned as an error, never
// propagated.
func Resolve(binding any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("binding read panicked: %v", r)
		}
	}()

	switch Classify(binding) {
	case KindAccessor:
		return binding.(Accessor).Get(), nil
	case KindAction:
		return actionPlaceholder, nil
	default:
		return binding, nil
	}
}

// isConventionSetter reports whether a key follows the set-prefixed,
// capitalized-suffix naming pattern ("setCount", "SetLabel"). An action
// bound to such a key is the alternate write path when no accessor exists.
func isConventionSetter(key string) bool {
	const prefixLen = 3
	if len(key) <= prefixLen {
		return false
	}
	if key[:prefixLen] != "set" && key[:prefixLen] != "Set" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(key[prefixLen:])
	return unicode.IsUpper(r)
}

// Invoke calls an action binding with positional args, adapting argument
// types where JSON decoding has widened them (e.g. float64 for integer
// parameters). Panics and returned errors both surface as an error result.
func Invoke(fn any, args []any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()

	fv := reflect.ValueOf(fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function: %T", fn)
	}
	ft := fv.Type()

	in, err := buildArgs(ft, args)
	if err != nil {
		return nil, err
	}

	results := fv.Call(in)
	return splitResults(ft, results)
}

// buildArgs converts caller-supplied positional args to the function's
// parameter types, honoring variadic tails.
func buildArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	numIn := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < numIn-1 {
			return nil, fmt.Errorf("expected at least %d args, got %d", numIn-1, len(args))
		}
	} else if len(args) != numIn {
		return nil, fmt.Errorf("expected %d args, got %d", numIn, len(args))
	}

	in := make([]reflect.Value, 0, len(args))
	for i, arg := range args {
		var paramType reflect.Type
		if ft.IsVariadic() && i >= numIn-1 {
			paramType = ft.In(numIn - 1).Elem()
		} else {
			paramType = ft.In(i)
		}
		v, err := convertArg(arg, paramType)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

// convertArg coerces one positional argument to the target parameter type.
func convertArg(arg any, to reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch to.Kind() {
		case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return reflect.Zero(to), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot pass nil as %s", to)
	}

	av := reflect.ValueOf(arg)
	at := av.Type()
	switch {
	case at.AssignableTo(to):
		return av, nil
	case isNumeric(at) && isNumeric(to):
		// JSON numbers arrive as float64; narrow them to the declared type.
		return av.Convert(to), nil
	case at.ConvertibleTo(to) && at.Kind() == to.Kind():
		return av.Convert(to), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", at, to)
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// splitResults maps a function's return values onto (value, error). Zero
// returns yield nil; a trailing error return is unwrapped; at most one
// non-error value is supported.
func splitResults(ft reflect.Type, results []reflect.Value) (any, error) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0).Implements(errType) {
			if e, ok := results[0].Interface().(error); ok && e != nil {
				return nil, e
			}
			return nil, nil
		}
		return results[0].Interface(), nil
	case 2:
		if !ft.Out(1).Implements(errType) {
			return nil, fmt.Errorf("unsupported return signature: second value must be error")
		}
		var err error
		if e, ok := results[1].Interface().(error); ok && e != nil {
			err = e
		}
		if err != nil {
			return nil, err
		}
		return results[0].Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported return signature: %d values", len(results))
	}
}
