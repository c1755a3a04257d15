// Package registry is the plugin manager. It maps plugins to names, keeps one
// hook.HookCaller per hook name, and validates implementations against their
// specifications at registration time.
package registry

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/log"
)

// Namer lets a plugin choose its own canonical name.
type Namer interface {
	PluginName() string
}

type entry struct {
	name    string
	plugin  any
	blocked bool
}

// Registry owns every HookCaller and the plugin name mapping. It is not safe
// for concurrent use.
type Registry struct {
	project string
	logger  *slog.Logger

	entries []*entry
	byName  map[string]*entry
	hooks   map[string]*hook.HookCaller

	inner hook.Exec
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry that reads declarations tagged for project.
func New(project string, opts ...Option) *Registry {
	r := &Registry{
		project: project,
		byName:  make(map[string]*entry),
		hooks:   make(map[string]*hook.HookCaller),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithComponent("registry")
	}
	r.inner = hook.NewExec(r.logger)
	return r
}

// Project returns the project name declarations must be tagged with.
func (r *Registry) Project() string { return r.project }

// hookexec is handed to every HookCaller so monitoring can swap the inner
// Exec without touching the callers.
func (r *Registry) hookexec(name string, impls []*hook.Impl, kwargs hook.Args, firstResult bool) (any, error) {
	return r.inner(name, impls, kwargs, firstResult)
}

func (r *Registry) caller(name string) *hook.HookCaller {
	hc, ok := r.hooks[name]
	if !ok {
		hc = hook.NewHookCaller(name, r.hookexec, r.logger)
		r.hooks[name] = hc
	}
	return hc
}

// Register adds plugin under name, or under its canonical name when name is
// empty. It returns the name used, or "" when the name is blocked.
//
// Every implementation is validated before any is inserted, so a failed
// registration leaves the registry unchanged.
func (r *Registry) Register(plugin any, name string) (string, error) {
	if plugin == nil {
		return "", fmt.Errorf("register: plugin is nil")
	}
	if !hook.Comparable(plugin) {
		return "", fmt.Errorf("register %T: %w", plugin, ErrUncomparable)
	}
	if name == "" {
		name = r.CanonicalName(plugin)
	}

	if e, ok := r.byName[name]; ok {
		if e.blocked {
			r.logger.Debug("skipping blocked plugin", "plugin", name)
			return "", nil
		}
		return "", fmt.Errorf("register %q: %w", name, ErrDuplicateName)
	}
	if other := r.Name(plugin); other != "" {
		return "", fmt.Errorf("register %q: already registered as %q: %w", name, other, ErrDuplicatePlugin)
	}

	impls, err := r.collectImpls(plugin, name)
	if err != nil {
		return "", err
	}

	e := &entry{name: name, plugin: plugin}
	r.entries = append(r.entries, e)
	r.byName[name] = e

	targets := make([]*hook.HookCaller, len(impls))
	for i, impl := range impls {
		targets[i] = r.caller(impl.name)
		targets[i].AddImpl(impl.impl)
	}
	for i, impl := range impls {
		if err := targets[i].ApplyHistory(impl.impl); err != nil {
			r.Unregister(plugin)
			return "", fmt.Errorf("register %q: replay %q: %w", name, impl.name, err)
		}
	}

	r.logger.Debug("plugin registered", "plugin", name, "hooks", len(impls))
	return name, nil
}

type namedImpl struct {
	name string
	impl *hook.Impl
}

func (r *Registry) collectImpls(plugin any, pluginName string) ([]namedImpl, error) {
	provider, ok := plugin.(hook.ImplProvider)
	if !ok {
		return nil, nil
	}

	var out []namedImpl
	seen := make(map[string]bool)
	for _, decl := range provider.HookImpls() {
		if decl.Project() != r.project {
			continue
		}
		hookName := decl.HookName()
		if hookName == "" {
			return nil, &hook.ValidationError{Plugin: pluginName, Reason: "hook implementation has no name"}
		}
		if seen[hookName] {
			return nil, &hook.ValidationError{Plugin: pluginName, Hook: hookName, Reason: "hook implemented more than once"}
		}
		seen[hookName] = true

		impl, err := hook.NewImpl(plugin, pluginName, decl.Func, decl.Params, decl.Opts)
		if err != nil {
			return nil, &hook.ValidationError{Plugin: pluginName, Hook: hookName, Reason: err.Error()}
		}
		var spec *hook.Spec
		if hc, ok := r.hooks[hookName]; ok {
			spec = hc.Spec()
		}
		if err := r.verify(hookName, spec, impl); err != nil {
			return nil, err
		}
		out = append(out, namedImpl{name: hookName, impl: impl})
	}
	return out, nil
}

// Unregister removes plugin and all its implementations. It returns the
// removed plugin, or nil when plugin is not registered.
func (r *Registry) Unregister(plugin any) any {
	name := r.Name(plugin)
	if name == "" {
		return nil
	}
	return r.UnregisterName(name)
}

// UnregisterName removes the plugin registered under name. It returns the
// removed plugin, or nil when there is none.
func (r *Registry) UnregisterName(name string) any {
	e, ok := r.byName[name]
	if !ok || e.blocked {
		return nil
	}
	for _, hc := range r.HookCallers(e.plugin) {
		if err := hc.RemovePlugin(e.plugin); err != nil {
			r.logger.Error("failed to remove implementation", "plugin", name, "hook", hc.Name(), "error", err)
		}
	}
	r.drop(e)
	r.logger.Debug("plugin unregistered", "plugin", name)
	return e.plugin
}

func (r *Registry) drop(e *entry) {
	delete(r.byName, e.name)
	r.entries = slices.DeleteFunc(r.entries, func(x *entry) bool { return x == e })
}

// SetBlocked unregisters any plugin named name and blocks the name from
// future registration.
func (r *Registry) SetBlocked(name string) {
	r.UnregisterName(name)
	if e, ok := r.byName[name]; ok && e.blocked {
		return
	}
	e := &entry{name: name, blocked: true}
	r.entries = append(r.entries, e)
	r.byName[name] = e
}

// IsBlocked reports whether name is blocked.
func (r *Registry) IsBlocked(name string) bool {
	e, ok := r.byName[name]
	return ok && e.blocked
}

// Unblock lifts a block. It reports whether name was blocked.
func (r *Registry) Unblock(name string) bool {
	e, ok := r.byName[name]
	if !ok || !e.blocked {
		return false
	}
	r.drop(e)
	return true
}

// BlockedNames returns the blocked names in the order they were blocked.
func (r *Registry) BlockedNames() []string {
	var out []string
	for _, e := range r.entries {
		if e.blocked {
			out = append(out, e.name)
		}
	}
	return out
}

// AddHookSpecs attaches every specification provider declares for this
// project. Implementations registered earlier are validated against the new
// specifications; on any error nothing is attached.
func (r *Registry) AddHookSpecs(provider hook.SpecProvider) error {
	var specs []*hook.Spec
	seen := make(map[string]bool)
	for _, decl := range provider.HookSpecs() {
		if decl.Project() != r.project {
			continue
		}
		spec, err := hook.NewSpec(provider, decl)
		if err != nil {
			return err
		}
		if seen[spec.Name()] {
			return fmt.Errorf("hook %q: declared more than once", spec.Name())
		}
		seen[spec.Name()] = true

		if hc, ok := r.hooks[spec.Name()]; ok {
			if hc.HasSpec() {
				return fmt.Errorf("hook %q: specification already attached", spec.Name())
			}
			for _, impl := range hc.Impls() {
				if err := r.verify(spec.Name(), spec, impl); err != nil {
					return err
				}
			}
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return fmt.Errorf("%T: project %q: %w", provider, r.project, ErrNoHookSpecs)
	}

	for _, spec := range specs {
		if err := r.caller(spec.Name()).SetSpec(spec); err != nil {
			return err
		}
	}
	r.logger.Debug("hook specifications added", "count", len(specs))
	return nil
}

// CheckPending fails if an implementation targets a hook with no
// specification and is not optional.
func (r *Registry) CheckPending() error {
	for _, name := range r.HookNames() {
		hc := r.hooks[name]
		if hc.HasSpec() {
			continue
		}
		for _, impl := range hc.Impls() {
			if !impl.Optional() {
				return &hook.ValidationError{Plugin: impl.PluginName(), Hook: name, Reason: "unknown hook"}
			}
		}
	}
	return nil
}

// CanonicalName returns the name a plugin is registered under when no name
// is given: its PluginName when it implements Namer, otherwise a digest of
// its type and identity.
func (r *Registry) CanonicalName(plugin any) string {
	if n, ok := plugin.(Namer); ok && n.PluginName() != "" {
		return n.PluginName()
	}
	var ident string
	v := reflect.ValueOf(plugin)
	switch v.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		ident = fmt.Sprintf("%T@%x", plugin, v.Pointer())
	default:
		ident = fmt.Sprintf("%T:%#v", plugin, plugin)
	}
	sum := blake3.Sum256([]byte(ident))
	return hex.EncodeToString(sum[:8])
}

// Plugin returns the plugin registered under name, or nil.
func (r *Registry) Plugin(name string) any {
	if e, ok := r.byName[name]; ok && !e.blocked {
		return e.plugin
	}
	return nil
}

// HasPlugin reports whether a plugin is registered under name.
func (r *Registry) HasPlugin(name string) bool {
	return r.Plugin(name) != nil
}

// Name returns the name plugin is registered under, or "".
func (r *Registry) Name(plugin any) string {
	if !hook.Comparable(plugin) {
		return ""
	}
	for _, e := range r.entries {
		if !e.blocked && hook.SamePlugin(e.plugin, plugin) {
			return e.name
		}
	}
	return ""
}

// IsRegistered reports whether plugin is registered.
func (r *Registry) IsRegistered(plugin any) bool {
	return r.Name(plugin) != ""
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []any {
	var out []any
	for _, e := range r.entries {
		if !e.blocked {
			out = append(out, e.plugin)
		}
	}
	return out
}

// NamedPlugin pairs a registered plugin with its name.
type NamedPlugin struct {
	Name   string
	Plugin any
}

// ListNamePlugin returns name and plugin pairs in registration order.
func (r *Registry) ListNamePlugin() []NamedPlugin {
	var out []NamedPlugin
	for _, e := range r.entries {
		if !e.blocked {
			out = append(out, NamedPlugin{Name: e.name, Plugin: e.plugin})
		}
	}
	return out
}

// HookCallers returns the callers plugin has implementations on, sorted by
// hook name. It returns nil when plugin is not registered.
func (r *Registry) HookCallers(plugin any) []*hook.HookCaller {
	if !r.IsRegistered(plugin) {
		return nil
	}
	var out []*hook.HookCaller
	for _, name := range r.HookNames() {
		hc := r.hooks[name]
		for _, impl := range hc.Impls() {
			if hook.SamePlugin(impl.Plugin(), plugin) {
				out = append(out, hc)
				break
			}
		}
	}
	return out
}

// HookNames returns every known hook name, sorted.
func (r *Registry) HookNames() []string {
	names := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HookCaller returns the caller for name, or nil if no specification or
// implementation has mentioned it.
func (r *Registry) HookCaller(name string) *hook.HookCaller {
	return r.hooks[name]
}

// SubsetHookCaller returns a view of hook name that skips the excluded
// plugins. When none of them implement the hook the full caller is returned.
func (r *Registry) SubsetHookCaller(name string, exclude []any) (hook.Caller, error) {
	hc, ok := r.hooks[name]
	if !ok {
		return nil, fmt.Errorf("hook %q: %w", name, hook.ErrNotFound)
	}
	var remove []any
	for _, impl := range hc.Impls() {
		for _, p := range exclude {
			if hook.SamePlugin(impl.Plugin(), p) {
				remove = append(remove, p)
			}
		}
	}
	if len(remove) == 0 {
		return hc, nil
	}
	return hook.NewSubsetCaller(hc, remove), nil
}
