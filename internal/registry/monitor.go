package registry

import "github.com/mattjoyce/hookrelay/internal/hook"

// BeforeFunc runs before every hook dispatch.
type BeforeFunc func(hookName string, impls []*hook.Impl, kwargs hook.Args)

// AfterFunc runs after every hook dispatch with its outcome. It may alter the
// outcome with ForceResult or ForceException.
type AfterFunc func(outcome *hook.Result, hookName string, impls []*hook.Impl, kwargs hook.Args)

// AddHookCallMonitoring wraps every dispatch with before and after. Monitors
// stack; the returned func removes this one by restoring the Exec it wrapped.
func (r *Registry) AddHookCallMonitoring(before BeforeFunc, after AfterFunc) (undo func()) {
	prev := r.inner
	r.inner = func(name string, impls []*hook.Impl, kwargs hook.Args, firstResult bool) (any, error) {
		if before != nil {
			before(name, impls, kwargs)
		}
		outcome := hook.FromCall(func() (any, error) {
			return prev(name, impls, kwargs, firstResult)
		})
		if after != nil {
			after(outcome, name, impls, kwargs)
		}
		return outcome.Get()
	}
	return func() { r.inner = prev }
}
