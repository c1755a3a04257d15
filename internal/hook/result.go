package hook

import "runtime/debug"

// Result holds the outcome of one unit of work: either a value or an error.
type Result struct {
	value any
	err   error
	stack []byte
}

// NewResult builds a Result. A non-nil err takes precedence over value.
func NewResult(value any, err error) *Result {
	if err != nil {
		return &Result{err: err, stack: stackOf(err)}
	}
	return &Result{value: value}
}

// FromCall runs fn and captures its outcome. Panics are recovered into a
// *PanicError; FromCall itself never panics.
func FromCall(fn func() (any, error)) (r *Result) {
	defer func() {
		if p := recover(); p != nil {
			perr := &PanicError{Value: p, Stack: debug.Stack()}
			r = &Result{err: perr, stack: perr.Stack}
		}
	}()
	v, err := fn()
	return NewResult(v, err)
}

// Value returns the success value, or nil when the Result holds an error.
func (r *Result) Value() any {
	return r.value
}

// Err returns the captured error, if any.
func (r *Result) Err() error {
	return r.err
}

// Stack returns the stack captured with a recovered panic.
func (r *Result) Stack() []byte {
	return r.stack
}

// ForceResult replaces the outcome with v and clears any error.
func (r *Result) ForceResult(v any) {
	r.value = v
	r.err = nil
	r.stack = nil
}

// ForceException replaces the outcome with err and clears any value.
func (r *Result) ForceException(err error) {
	r.value = nil
	r.err = err
	r.stack = stackOf(err)
}

// Get returns the value, or the captured error unchanged.
func (r *Result) Get() (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.value, nil
}

func stackOf(err error) []byte {
	if p, ok := err.(*PanicError); ok {
		return p.Stack
	}
	return nil
}
