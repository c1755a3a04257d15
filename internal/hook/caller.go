package hook

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/mattjoyce/hookrelay/internal/log"
)

// Caller is the call surface of one hook.
type Caller interface {
	Name() string
	Spec() *Spec
	HasSpec() bool
	IsHistoric() bool
	Impls() []*Impl
	Call(kwargs Args) (any, error)
	CallHistoric(callback func(any), kwargs Args) error
	CallExtra(extras []Extra, kwargs Args) (any, error)
}

// Extra is a one-off function spliced into a single CallExtra dispatch.
type Extra struct {
	Func   any
	Params Params
}

// TempPluginName is the plugin name given to CallExtra implementations.
const TempPluginName = "<temp>"

type historyEntry struct {
	kwargs   Args
	callback func(any)
}

// HookCaller owns the ordered implementations of one hook name.
type HookCaller struct {
	name    string
	exec    Exec
	logger  *slog.Logger
	impls   []*Impl
	spec    *Spec
	history []historyEntry
}

// NewHookCaller creates an empty caller for name. exec runs the dispatch;
// nil selects the default multicall engine.
func NewHookCaller(name string, exec Exec, logger *slog.Logger) *HookCaller {
	if logger == nil {
		logger = log.WithComponent("hook")
	}
	if exec == nil {
		exec = NewExec(logger)
	}
	return &HookCaller{name: name, exec: exec, logger: logger.With("hook", name)}
}

// Name returns the hook name.
func (c *HookCaller) Name() string { return c.name }

// Spec returns the attached specification, or nil.
func (c *HookCaller) Spec() *Spec { return c.spec }

// HasSpec reports whether a specification is attached.
func (c *HookCaller) HasSpec() bool { return c.spec != nil }

// IsHistoric reports whether calls are logged for replay.
func (c *HookCaller) IsHistoric() bool { return c.history != nil }

// SetSpec attaches spec. A caller accepts at most one specification.
func (c *HookCaller) SetSpec(spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("hook %q: nil specification", c.name)
	}
	if c.spec != nil {
		return fmt.Errorf("hook %q: specification already attached", c.name)
	}
	if spec.Name() != c.name {
		return fmt.Errorf("hook %q: specification is for %q", c.name, spec.Name())
	}
	c.spec = spec
	if spec.Historic() {
		c.history = []historyEntry{}
	}
	return nil
}

// Impls returns a copy of the implementations in insertion order.
func (c *HookCaller) Impls() []*Impl {
	return slices.Clone(c.impls)
}

// AddImpl inserts impl at its ordered position. The list is never re-sorted.
func (c *HookCaller) AddImpl(impl *Impl) {
	c.impls = insertImpl(c.impls, impl)
}

func insertImpl(impls []*Impl, impl *Impl) []*Impl {
	split := len(impls)
	for i, m := range impls {
		if m.wrapperClass() {
			split = i
			break
		}
	}

	start, end := 0, split
	if impl.wrapperClass() {
		start, end = split, len(impls)
	}

	// Dispatch walks the list backwards, so the region's end runs first.
	switch {
	case impl.TryLast():
		return slices.Insert(impls, start, impl)
	case impl.TryFirst():
		return slices.Insert(impls, end, impl)
	default:
		i := end - 1
		for i >= start && impls[i].TryFirst() {
			i--
		}
		return slices.Insert(impls, i+1, impl)
	}
}

// RemovePlugin removes the implementation owned by plugin. It returns an
// error wrapping ErrNotFound when there is none.
func (c *HookCaller) RemovePlugin(plugin any) error {
	for i, m := range c.impls {
		if SamePlugin(m.plugin, plugin) {
			c.impls = slices.Delete(c.impls, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("hook %q: plugin %v: %w", c.name, plugin, ErrNotFound)
}

// Call dispatches to every implementation. Historic hooks must use
// CallHistoric.
func (c *HookCaller) Call(kwargs Args) (any, error) {
	if c.IsHistoric() {
		return nil, &ProtocolError{Hook: c.name, Reason: "cannot call a historic hook directly, use CallHistoric"}
	}
	return c.dispatch(c.Impls(), kwargs)
}

// CallHistoric records the call for later replay and dispatches it. callback,
// if set, receives each non-nil result in order.
func (c *HookCaller) CallHistoric(callback func(any), kwargs Args) error {
	return c.callHistoric(c.Impls(), callback, kwargs)
}

// CallExtra dispatches with extras spliced in ahead of the trailing wrapper
// and try-first implementations.
func (c *HookCaller) CallExtra(extras []Extra, kwargs Args) (any, error) {
	return c.callExtra(c.Impls(), extras, kwargs)
}

func (c *HookCaller) dispatch(impls []*Impl, kwargs Args) (any, error) {
	c.verifyArgs(kwargs)
	firstResult := c.spec != nil && c.spec.FirstResult()
	return c.exec(c.name, impls, kwargs, firstResult)
}

func (c *HookCaller) callHistoric(impls []*Impl, callback func(any), kwargs Args) error {
	if !c.IsHistoric() {
		return &ProtocolError{Hook: c.name, Reason: "CallHistoric requires a historic hook"}
	}
	if kwargs == nil {
		kwargs = Args{}
	}
	c.verifyArgs(kwargs)
	c.history = append(c.history, historyEntry{kwargs: kwargs, callback: callback})

	res, err := c.exec(c.name, impls, kwargs, false)
	if err != nil {
		return err
	}
	if callback == nil {
		return nil
	}
	if list, ok := res.([]any); ok {
		for _, v := range list {
			callback(v)
		}
	}
	return nil
}

func (c *HookCaller) callExtra(impls []*Impl, extras []Extra, kwargs Args) (any, error) {
	if c.IsHistoric() {
		return nil, &ProtocolError{Hook: c.name, Reason: "cannot call a historic hook directly, use CallHistoric"}
	}
	for _, extra := range extras {
		impl, err := NewImpl(nil, TempPluginName, extra.Func, extra.Params, ImplOpts{})
		if err != nil {
			return nil, &ValidationError{Plugin: TempPluginName, Hook: c.name, Reason: err.Error()}
		}
		i := len(impls) - 1
		for i >= 0 && (impls[i].wrapperClass() || impls[i].TryFirst()) {
			i--
		}
		impls = slices.Insert(impls, i+1, impl)
	}
	return c.dispatch(impls, kwargs)
}

// ApplyHistory replays every logged historic call into impl alone, in
// original call order. Each callback receives the first result of its call.
func (c *HookCaller) ApplyHistory(impl *Impl) error {
	if !c.IsHistoric() {
		return nil
	}
	for _, h := range c.history {
		res, err := c.exec(c.name, []*Impl{impl}, h.kwargs, false)
		if err != nil {
			return err
		}
		if h.callback == nil {
			continue
		}
		if list, ok := res.([]any); ok && len(list) > 0 {
			h.callback(list[0])
		}
	}
	return nil
}

// verifyArgs warns about specification arguments the call does not supply.
// Dispatch still proceeds.
func (c *HookCaller) verifyArgs(kwargs Args) {
	if c.spec == nil {
		return
	}
	var missing []string
	for _, name := range c.spec.argNames {
		if _, ok := kwargs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		c.logger.Warn("hook call is missing arguments; implementations may fail to bind",
			"missing", missing)
	}
}

func (c *HookCaller) String() string {
	return fmt.Sprintf("<HookCaller %q>", c.name)
}

// SubsetCaller is a read-only view of a HookCaller that skips the
// implementations of excluded plugins. It shares the original's
// specification and call history.
type SubsetCaller struct {
	orig     *HookCaller
	excluded []any
}

// NewSubsetCaller returns a view of orig without the implementations of the
// excluded plugins.
func NewSubsetCaller(orig *HookCaller, excluded []any) *SubsetCaller {
	return &SubsetCaller{orig: orig, excluded: slices.Clone(excluded)}
}

// Name returns the hook name.
func (s *SubsetCaller) Name() string { return s.orig.name }

// Spec returns the shared specification.
func (s *SubsetCaller) Spec() *Spec { return s.orig.spec }

// HasSpec reports whether a specification is attached.
func (s *SubsetCaller) HasSpec() bool { return s.orig.HasSpec() }

// IsHistoric reports whether the hook is historic.
func (s *SubsetCaller) IsHistoric() bool { return s.orig.IsHistoric() }

// Impls returns the original's implementations minus excluded plugins.
func (s *SubsetCaller) Impls() []*Impl {
	out := make([]*Impl, 0, len(s.orig.impls))
	for _, m := range s.orig.impls {
		if !slices.ContainsFunc(s.excluded, func(p any) bool { return SamePlugin(p, m.plugin) }) {
			out = append(out, m)
		}
	}
	return out
}

// Call dispatches to the visible implementations.
func (s *SubsetCaller) Call(kwargs Args) (any, error) {
	if s.IsHistoric() {
		return nil, &ProtocolError{Hook: s.orig.name, Reason: "cannot call a historic hook directly, use CallHistoric"}
	}
	return s.orig.dispatch(s.Impls(), kwargs)
}

// CallHistoric records the call in the shared history and dispatches it to
// the visible implementations.
func (s *SubsetCaller) CallHistoric(callback func(any), kwargs Args) error {
	return s.orig.callHistoric(s.Impls(), callback, kwargs)
}

// CallExtra dispatches the visible implementations plus extras.
func (s *SubsetCaller) CallExtra(extras []Extra, kwargs Args) (any, error) {
	return s.orig.callExtra(s.Impls(), extras, kwargs)
}

func (s *SubsetCaller) String() string {
	return fmt.Sprintf("<SubsetCaller %q>", s.orig.name)
}

var (
	_ Caller = (*HookCaller)(nil)
	_ Caller = (*SubsetCaller)(nil)
)
