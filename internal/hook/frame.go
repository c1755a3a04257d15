package hook

// Step reports where a Frame stopped.
type Step int

const (
	// Suspended means the frame paused and waits to be resumed.
	Suspended Step = iota
	// Completed means the frame ran to its end.
	Completed
)

func (s Step) String() string {
	if s == Suspended {
		return "suspended"
	}
	return "completed"
}

// Frame is a wrapper implementation split at its single suspension point.
//
// Enter runs the code before the suspension point and must report Suspended.
// Resume receives the outcome of the inner implementations and runs the rest.
// It may change the outcome through ForceResult or ForceException, or fail by
// returning an error. Resume must report Completed. A new-style frame that
// suspends again aborts the call at once; a legacy frame's second suspension
// becomes the pending error and outer wrappers still run their teardown.
type Frame interface {
	Enter() (Step, error)
	Resume(outcome *Result) (Step, error)
}

// Yield returns a Frame for a new-style wrapper whose setup already ran in the
// implementation body. after receives the inner value or error and returns the
// final outcome; returning its inputs unchanged passes the outcome through.
func Yield(after func(value any, err error) (any, error)) Frame {
	return &yieldFrame{after: after}
}

type yieldFrame struct {
	after func(value any, err error) (any, error)
}

func (f *yieldFrame) Enter() (Step, error) {
	return Suspended, nil
}

func (f *yieldFrame) Resume(outcome *Result) (Step, error) {
	if f.after == nil {
		return Completed, nil
	}
	v, err := f.after(outcome.Value(), outcome.Err())
	if err != nil {
		return Completed, err
	}
	outcome.ForceResult(v)
	return Completed, nil
}

// YieldLegacy returns a Frame for an old-style wrapper. after inspects the
// outcome and may force a new one; a returned error is reported as a teardown
// failure and then propagated.
func YieldLegacy(after func(outcome *Result) error) Frame {
	return &legacyFrame{after: after}
}

type legacyFrame struct {
	after func(outcome *Result) error
}

func (f *legacyFrame) Enter() (Step, error) {
	return Suspended, nil
}

func (f *legacyFrame) Resume(outcome *Result) (Step, error) {
	if f.after == nil {
		return Completed, nil
	}
	return Completed, f.after(outcome)
}
