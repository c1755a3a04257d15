package hook

import (
	"fmt"
	"reflect"
	"slices"
)

// Impl is one registered implementation of a hook. It never changes after
// construction.
type Impl struct {
	plugin     any
	pluginName string
	fn         any
	argNames   []string
	kwargNames []string
	opts       ImplOpts
	call       *callable
}

// NewImpl normalizes fn into an implementation owned by plugin.
func NewImpl(plugin any, pluginName string, fn any, params Params, opts ImplOpts) (*Impl, error) {
	c, err := newCallable(fn, params)
	if err != nil {
		return nil, err
	}
	return &Impl{
		plugin:     plugin,
		pluginName: pluginName,
		fn:         fn,
		argNames:   slices.Clone(params.Args),
		kwargNames: slices.Clone(params.Defaults),
		opts:       opts,
		call:       c,
	}, nil
}

// Plugin returns the owning plugin, or nil for temporary implementations.
func (i *Impl) Plugin() any { return i.plugin }

// PluginName returns the owning plugin's registered name.
func (i *Impl) PluginName() string { return i.pluginName }

// Func returns the function the implementation was built from.
func (i *Impl) Func() any { return i.fn }

// ArgNames returns the argument names bound at call time.
func (i *Impl) ArgNames() []string { return slices.Clone(i.argNames) }

// KwargNames returns the argument names that carry defaults.
func (i *Impl) KwargNames() []string { return slices.Clone(i.kwargNames) }

// Opts returns the implementation's options.
func (i *Impl) Opts() ImplOpts { return i.opts }

// Wrapper reports a new-style wrapper.
func (i *Impl) Wrapper() bool { return i.opts.Wrapper }

// LegacyWrapper reports an old-style wrapper.
func (i *Impl) LegacyWrapper() bool { return i.opts.LegacyWrapper }

// TryFirst reports the try-first priority flag.
func (i *Impl) TryFirst() bool { return i.opts.TryFirst }

// TryLast reports the try-last priority flag.
func (i *Impl) TryLast() bool { return i.opts.TryLast }

// Optional reports whether the implementation may target an unknown hook.
func (i *Impl) Optional() bool { return i.opts.Optional }

// wrapperClass reports either kind of wrapper.
func (i *Impl) wrapperClass() bool {
	return i.opts.Wrapper || i.opts.LegacyWrapper
}

func (i *Impl) String() string {
	return fmt.Sprintf("<Impl plugin_name=%q>", i.pluginName)
}

// ReturnsFrame reports whether impl's function produces a Frame and so can
// act as a wrapper.
func ReturnsFrame(impl *Impl) bool {
	return impl.call.returnsFrame()
}

// SamePlugin reports whether a and b are the same plugin value. Values whose
// dynamic contents cannot be compared are never the same.
func SamePlugin(a, b any) (same bool) {
	if a == nil || b == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Comparable reports whether plugin can be compared for identity, looking
// through interface fields at the values they hold.
func Comparable(plugin any) bool {
	return plugin != nil && reflect.ValueOf(plugin).Comparable()
}
