package hook

import (
	"fmt"
	"math"
	"reflect"
)

// Args are the keyword arguments of a hook call.
type Args map[string]any

// ArgsFunc is an implementation that receives its declared arguments as a map
// instead of positional parameters.
type ArgsFunc func(args Args) (any, error)

// WrapperFunc is the Args form of a wrapper implementation.
type WrapperFunc func(args Args) (Frame, error)

// Params declares the parameter names of a hook function in order. Go does
// not expose parameter names through reflection, so they are declared next to
// the function.
//
// Args are bound from the call's keyword arguments. Defaults name trailing
// parameters that are never bound; they receive their zero value.
type Params struct {
	Args     []string
	Defaults []string
}

// P is shorthand for Params with only required arguments.
func P(names ...string) Params {
	return Params{Args: names}
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	frameType = reflect.TypeOf((*Frame)(nil)).Elem()
)

// callable is a hook function normalized to a single calling convention.
type callable struct {
	argsFn    ArgsFunc
	wrapFn    WrapperFunc
	fn        reflect.Value
	in        []reflect.Type
	valueOut  int
	errOut    int
	frameOnly bool
}

// newCallable normalizes a plain function, a bound method value, a
// constructor function, a callable object (any value with a Call method), an
// ArgsFunc or a WrapperFunc.
func newCallable(fn any, p Params) (*callable, error) {
	if fn == nil {
		return nil, fmt.Errorf("function is nil")
	}
	if err := checkNames(p); err != nil {
		return nil, err
	}

	switch f := fn.(type) {
	case ArgsFunc:
		return &callable{argsFn: f, valueOut: -1, errOut: -1}, nil
	case func(Args) (any, error):
		return &callable{argsFn: f, valueOut: -1, errOut: -1}, nil
	case WrapperFunc:
		return &callable{wrapFn: f, valueOut: -1, errOut: -1, frameOnly: true}, nil
	case func(Args) (Frame, error):
		return &callable{wrapFn: f, valueOut: -1, errOut: -1, frameOnly: true}, nil
	}

	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		m := v.MethodByName("Call")
		if !m.IsValid() {
			return nil, fmt.Errorf("%T is not callable", fn)
		}
		v = m
	}
	if v.IsNil() {
		return nil, fmt.Errorf("function is nil")
	}

	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("variadic function %s is not supported", t)
	}
	if want := len(p.Args) + len(p.Defaults); t.NumIn() != want {
		return nil, fmt.Errorf("function %s takes %d parameters, %d declared", t, t.NumIn(), want)
	}

	c := &callable{fn: v, valueOut: -1, errOut: -1}
	for i := 0; i < t.NumIn(); i++ {
		c.in = append(c.in, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			c.errOut = 0
		} else {
			c.valueOut = 0
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("function %s: second result must be error", t)
		}
		c.valueOut, c.errOut = 0, 1
	default:
		return nil, fmt.Errorf("function %s returns too many values", t)
	}
	c.frameOnly = c.valueOut >= 0 && t.Out(c.valueOut).Implements(frameType)
	return c, nil
}

func checkNames(p Params) error {
	seen := make(map[string]struct{}, len(p.Args)+len(p.Defaults))
	for _, names := range [][]string{p.Args, p.Defaults} {
		for _, n := range names {
			if n == "" {
				return fmt.Errorf("empty parameter name")
			}
			if _, dup := seen[n]; dup {
				return fmt.Errorf("duplicate parameter name %q", n)
			}
			seen[n] = struct{}{}
		}
	}
	return nil
}

// returnsFrame reports whether the function can act as a wrapper.
func (c *callable) returnsFrame() bool {
	return c.frameOnly
}

// call invokes the function with values bound, in order, to the declared
// required arguments.
func (c *callable) call(names []string, values []any) (any, error) {
	if c.argsFn != nil || c.wrapFn != nil {
		args := make(Args, len(names))
		for i, n := range names {
			args[n] = values[i]
		}
		if c.argsFn != nil {
			return c.argsFn(args)
		}
		frame, err := c.wrapFn(args)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			return nil, nil
		}
		return frame, nil
	}

	in := make([]reflect.Value, len(c.in))
	for i, typ := range c.in {
		if i >= len(values) {
			in[i] = reflect.Zero(typ)
			continue
		}
		rv, err := convertArg(values[i], typ)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", names[i], err)
		}
		in[i] = rv
	}

	out := c.fn.Call(in)
	var err error
	if c.errOut >= 0 && !out[c.errOut].IsNil() {
		err = out[c.errOut].Interface().(error)
	}
	if c.valueOut < 0 {
		return nil, err
	}
	rv := out[c.valueOut]
	if isNilValue(rv) {
		return nil, err
	}
	return rv.Interface(), err
}

func convertArg(v any, typ reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(typ), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(typ) {
		return rv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(typ.Kind()) {
		if out, ok := convertNumber(rv, typ); ok {
			return out, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, typ)
}

// convertNumber converts rv to typ only when the value survives unchanged.
func convertNumber(rv reflect.Value, typ reflect.Type) (reflect.Value, bool) {
	out := reflect.New(typ).Elem()
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		switch {
		case isInt(typ.Kind()):
			if out.OverflowInt(n) {
				return out, false
			}
			out.SetInt(n)
		case isUint(typ.Kind()):
			if n < 0 || out.OverflowUint(uint64(n)) {
				return out, false
			}
			out.SetUint(uint64(n))
		default:
			if n < -exactFloat(typ) || n > exactFloat(typ) {
				return out, false
			}
			out.SetFloat(float64(n))
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		switch {
		case isInt(typ.Kind()):
			if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
				return out, false
			}
			out.SetInt(int64(n))
		case isUint(typ.Kind()):
			if out.OverflowUint(n) {
				return out, false
			}
			out.SetUint(n)
		default:
			if n > uint64(exactFloat(typ)) {
				return out, false
			}
			out.SetFloat(float64(n))
		}
	default:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			if typ.Kind() != reflect.Float32 && typ.Kind() != reflect.Float64 {
				return out, false
			}
			out.SetFloat(f)
			return out, true
		}
		switch {
		case isInt(typ.Kind()):
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
				return out, false
			}
			out.SetInt(int64(f))
		case isUint(typ.Kind()):
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
				return out, false
			}
			out.SetUint(uint64(f))
		default:
			if out.OverflowFloat(f) {
				return out, false
			}
			out.SetFloat(f)
		}
	}
	return out, true
}

// exactFloat is the largest integer magnitude typ represents exactly.
func exactFloat(typ reflect.Type) int64 {
	if typ.Kind() == reflect.Float32 {
		return 1 << 24
	}
	return 1 << 53
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isNilValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
