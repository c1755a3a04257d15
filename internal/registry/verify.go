package registry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mattjoyce/hookrelay/internal/hook"
)

// verify checks impl against the hook it targets. Wrapper checks always
// apply; the rest need a specification.
func (r *Registry) verify(hookName string, spec *hook.Spec, impl *hook.Impl) error {
	fail := func(format string, args ...any) error {
		return &hook.ValidationError{Plugin: impl.PluginName(), Hook: hookName, Reason: fmt.Sprintf(format, args...)}
	}

	if impl.Wrapper() && impl.LegacyWrapper() {
		return fail("wrapper and legacy wrapper options are mutually exclusive")
	}
	if (impl.Wrapper() || impl.LegacyWrapper()) && !hook.ReturnsFrame(impl) {
		return fail("wrapper implementation must return a hook.Frame")
	}
	if spec == nil {
		return nil
	}

	if spec.Historic() && (impl.Wrapper() || impl.LegacyWrapper()) {
		return fail("historic hooks cannot be implemented by wrappers")
	}

	if w := spec.Opts().WarnOnImpl; w != nil {
		r.warn(hookName, impl, "", w)
	}

	specArgs := spec.ArgNames()
	var unknown []string
	for _, name := range impl.ArgNames() {
		if !slices.Contains(specArgs, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fail("argument(s) %s are declared in the implementation but not in the specification", strings.Join(unknown, ", "))
	}

	if perArg := spec.Opts().WarnOnImplArgs; len(perArg) > 0 {
		for _, name := range impl.ArgNames() {
			if w := perArg[name]; w != nil {
				r.warn(hookName, impl, name, w)
			}
		}
	}
	return nil
}

func (r *Registry) warn(hookName string, impl *hook.Impl, arg string, w *hook.Warning) {
	attrs := []any{
		"plugin", impl.PluginName(),
		"hook", hookName,
		"category", w.Category,
	}
	if arg != "" {
		attrs = append(attrs, "argument", arg)
	}
	r.logger.Warn(w.Message, attrs...)
}
