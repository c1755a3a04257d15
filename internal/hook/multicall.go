package hook

import (
	"log/slog"
	"reflect"
	"runtime/debug"

	"github.com/mattjoyce/hookrelay/internal/log"
)

// Exec runs the implementations of one hook and aggregates their results.
// With firstResult it returns a single value (or nil), otherwise []any.
type Exec func(hookName string, impls []*Impl, kwargs Args, firstResult bool) (any, error)

// NewExec returns the multicall Exec, reporting legacy wrapper teardown
// failures to logger.
func NewExec(logger *slog.Logger) Exec {
	if logger == nil {
		logger = log.WithComponent("hook")
	}
	return func(hookName string, impls []*Impl, kwargs Args, firstResult bool) (any, error) {
		return multicall(logger, hookName, impls, kwargs, firstResult)
	}
}

// Multicall runs impls for hookName using the process logger for warnings.
func Multicall(hookName string, impls []*Impl, kwargs Args, firstResult bool) (any, error) {
	return multicall(log.WithComponent("hook"), hookName, impls, kwargs, firstResult)
}

type teardown struct {
	impl  *Impl
	frame Frame
}

func multicall(logger *slog.Logger, hookName string, impls []*Impl, kwargs Args, firstResult bool) (any, error) {
	var (
		results   []any
		pending   error
		teardowns []teardown
	)

	// Last inserted runs first.
	for i := len(impls) - 1; i >= 0; i-- {
		impl := impls[i]

		values, err := bindArgs(hookName, impl, kwargs)
		if err != nil {
			pending = err
			break
		}

		if impl.wrapperClass() {
			frame, err := enterFrame(hookName, impl, values)
			if err != nil {
				pending = err
				break
			}
			teardowns = append(teardowns, teardown{impl: impl, frame: frame})
			continue
		}

		res := FromCall(func() (any, error) {
			return impl.call.call(impl.argNames, values)
		})
		if err := res.Err(); err != nil {
			pending = err
			break
		}
		if v := res.Value(); !isNil(v) {
			results = append(results, v)
			if firstResult {
				break
			}
		}
	}

	var result any
	if firstResult {
		if len(results) > 0 {
			result = results[0]
		}
	} else {
		if results == nil {
			results = []any{}
		}
		result = results
	}

	// Innermost wrapper is resumed first.
	for i := len(teardowns) - 1; i >= 0; i-- {
		td := teardowns[i]
		outcome := NewResult(result, pending)

		step, err := resumeFrame(td.frame, outcome)
		if err == nil && step == Suspended {
			if !td.impl.LegacyWrapper() {
				return nil, wrapFail(hookName, td.impl, "has second yield")
			}
			result, pending = nil, wrapFail(hookName, td.impl, "has second yield")
			continue
		}
		if err != nil {
			if td.impl.LegacyWrapper() {
				logger.Warn("plugin raised an error during a legacy wrapper teardown",
					"plugin", td.impl.PluginName(),
					"hook", hookName,
					"error", err.Error(),
				)
			}
			result, pending = nil, err
			continue
		}
		result, pending = outcome.Value(), outcome.Err()
	}

	if pending != nil {
		return nil, pending
	}
	return result, nil
}

func bindArgs(hookName string, impl *Impl, kwargs Args) ([]any, error) {
	values := make([]any, len(impl.argNames))
	for i, name := range impl.argNames {
		v, ok := kwargs[name]
		if !ok {
			return nil, &HookCallError{Hook: hookName, Argument: name, Plugin: impl.PluginName()}
		}
		values[i] = v
	}
	return values, nil
}

func enterFrame(hookName string, impl *Impl, values []any) (Frame, error) {
	res := FromCall(func() (any, error) {
		out, err := impl.call.call(impl.argNames, values)
		if err != nil {
			return nil, err
		}
		frame, _ := out.(Frame)
		if frame == nil {
			return nil, wrapFail(hookName, impl, "did not yield")
		}
		step, err := frame.Enter()
		if err != nil {
			return nil, err
		}
		if step != Suspended {
			return nil, wrapFail(hookName, impl, "did not yield")
		}
		return frame, nil
	})
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Value().(Frame), nil
}

func resumeFrame(frame Frame, outcome *Result) (step Step, err error) {
	defer func() {
		if p := recover(); p != nil {
			step, err = Completed, &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return frame.Resume(outcome)
}

func wrapFail(hookName string, impl *Impl, reason string) error {
	return &WrapperError{Hook: hookName, Plugin: impl.PluginName(), Reason: reason}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	return isNilValue(reflect.ValueOf(v))
}
