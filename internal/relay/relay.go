// Package relay hosts a hook registry for a running service. It loads hook
// specifications from config, registers discovered process plugins, journals
// hook calls and serializes all registry access behind one mutex.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/hookrelay/internal/config"
	"github.com/mattjoyce/hookrelay/internal/dispatch"
	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/journal"
	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/plugin"
	"github.com/mattjoyce/hookrelay/internal/registry"
	"github.com/mattjoyce/hookrelay/internal/storage"
)

// StartupHook is called once, historically, when the relay starts. Plugins
// registered later still receive it.
const StartupHook = "hookrelay_startup"

var (
	ErrUnknownHook   = errors.New("unknown hook")
	ErrUnknownPlugin = errors.New("unknown plugin")
	ErrJournalOff    = errors.New("journal disabled")
)

// Relay owns the registry of a running service. It is safe for concurrent use.
type Relay struct {
	mu sync.Mutex

	ctx     context.Context
	cfg     *config.Config
	reg     *registry.Registry
	runner  plugin.Runner
	marker  hook.ImplMarker
	logger  *slog.Logger
	started time.Time

	adapters map[string]*plugin.Adapter

	db      *sql.DB
	journal *journal.Journal
	undo    func()
}

// Option configures a Relay.
type Option func(*Relay)

// WithRunner replaces the process runner used by plugin adapters.
func WithRunner(r plugin.Runner) Option {
	return func(rl *Relay) { rl.runner = r }
}

// WithLogger sets the relay's logger.
func WithLogger(l *slog.Logger) Option {
	return func(rl *Relay) { rl.logger = l }
}

// New builds a relay from cfg: hook specs, blocked names, the journal, the
// startup call and every discovered plugin. ctx bounds plugin processes for
// the relay's lifetime.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Relay, error) {
	r := &Relay{
		ctx:      ctx,
		cfg:      cfg,
		marker:   hook.NewImplMarker(cfg.Service.Project),
		started:  time.Now(),
		adapters: make(map[string]*plugin.Adapter),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithComponent("relay")
	}
	if r.runner == nil {
		r.runner = dispatch.NewRunner(dispatch.WithLogger(r.logger.With("component", "dispatch")))
	}

	r.reg = registry.New(cfg.Service.Project, registry.WithLogger(r.logger))

	if err := r.reg.AddHookSpecs(builtinSpecs{hook.NewSpecMarker(cfg.Service.Project)}); err != nil {
		return nil, fmt.Errorf("add builtin hooks: %w", err)
	}
	if table := cfg.HookSpecs(hook.NewSpecMarker(cfg.Service.Project)); table.Len() > 0 {
		if err := r.reg.AddHookSpecs(table); err != nil {
			return nil, fmt.Errorf("add configured hooks: %w", err)
		}
	}
	for _, name := range cfg.Blocked {
		r.reg.SetBlocked(name)
	}

	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		r.db = db
		r.journal = journal.New(db)
		r.undo = journal.NewMonitor(ctx, r.journal, r.logger.With("component", "journal")).Attach(r.reg)
	}

	if err := r.reg.HookCaller(StartupHook).CallHistoric(nil, hook.Args{
		"service":    cfg.Service.Name,
		"started_at": r.started.UTC().Format(time.RFC3339),
	}); err != nil {
		r.Close()
		return nil, fmt.Errorf("call %s: %w", StartupHook, err)
	}

	if _, err := r.loadPlugins(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.reg.CheckPending(); err != nil {
		r.logger.Warn("plugin implements a hook with no specification", "error", err)
	}

	r.logger.Info("relay started",
		"project", cfg.Service.Project,
		"hooks", len(r.reg.HookNames()),
		"plugins", len(r.adapters),
		"journal", cfg.Journal.Enabled,
	)
	return r, nil
}

type builtinSpecs struct {
	marker hook.SpecMarker
}

func (b builtinSpecs) HookSpecs() []hook.SpecDecl {
	return []hook.SpecDecl{
		b.marker.Spec(StartupHook, hook.P("service", "started_at"), hook.SpecOpts{Historic: true}),
	}
}

// discover scans the configured plugin roots that exist.
func (r *Relay) discover() (*plugin.Catalog, error) {
	var roots []string
	for _, root := range r.cfg.PluginRoots {
		if _, err := os.Stat(root); err != nil {
			r.logger.Warn("skipping plugin root", "root", root, "error", err)
			continue
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		return plugin.NewCatalog(), nil
	}
	return plugin.DiscoverMany(roots, func(level, msg string, args ...any) {
		switch level {
		case "debug":
			r.logger.Debug(msg, args...)
		case "warn":
			r.logger.Warn(msg, args...)
		case "error":
			r.logger.Error(msg, args...)
		default:
			r.logger.Info(msg, args...)
		}
	})
}

// loadPlugins registers every discovered plugin that is enabled, configured
// and not yet registered. A plugin whose manifest changed since it was
// registered is replaced. Returns the names registered.
func (r *Relay) loadPlugins() ([]string, error) {
	catalog, err := r.discover()
	if err != nil {
		return nil, fmt.Errorf("discover plugins: %w", err)
	}

	var loaded []string
	for _, name := range catalog.Names() {
		p, _ := catalog.Get(name)

		if !r.cfg.PluginEnabled(name) {
			r.logger.Debug("plugin disabled", "plugin", name)
			continue
		}
		if r.reg.IsBlocked(name) {
			r.logger.Debug("plugin blocked", "plugin", name)
			continue
		}

		if existing, ok := r.adapters[name]; ok {
			if existing.Plugin().Digest == p.Digest && r.reg.IsRegistered(existing) {
				continue
			}
			r.reg.Unregister(existing)
			delete(r.adapters, name)
			r.logger.Info("plugin manifest changed, replacing", "plugin", name, "digest", p.Digest)
		} else if r.reg.HasPlugin(name) {
			r.logger.Warn("plugin name already in use", "plugin", name)
			continue
		}

		pc := r.cfg.Plugins[name]
		if missing := p.MissingConfig(pc.Config); len(missing) > 0 {
			detail := "missing config keys: " + strings.Join(missing, ", ")
			r.logger.Warn("plugin not registered", "plugin", name, "reason", detail)
			r.event(name, journal.EventRejected, detail)
			continue
		}

		adapter := plugin.NewAdapter(p, r.runner, r.marker,
			plugin.WithConfig(pc.Config),
			plugin.WithTimeout(r.cfg.PluginTimeout(name)),
			plugin.WithContext(r.ctx),
			plugin.WithAdapterLogger(r.logger.With("plugin", name)),
		)
		if _, err := r.reg.Register(adapter, name); err != nil {
			r.logger.Warn("plugin not registered", "plugin", name, "error", err)
			r.event(name, journal.EventRejected, err.Error())
			continue
		}
		r.adapters[name] = adapter
		r.event(name, journal.EventRegistered, p.Digest)
		loaded = append(loaded, name)
	}
	return loaded, nil
}

func (r *Relay) event(plugin string, kind journal.EventKind, detail string) {
	if r.journal == nil {
		return
	}
	if _, err := r.journal.RecordEvent(r.ctx, plugin, kind, detail); err != nil {
		r.logger.Error("failed to journal plugin event", "plugin", plugin, "event", kind, "error", err)
	}
}

// Registry exposes the underlying registry for callers that register
// in-process plugins. Callers must not use it concurrently with the relay.
func (r *Relay) Registry() *registry.Registry {
	return r.reg
}

// Register adds an in-process plugin under name.
func (r *Relay) Register(p any, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	got, err := r.reg.Register(p, name)
	if err != nil {
		return "", err
	}
	if got != "" {
		r.event(got, journal.EventRegistered, "in-process")
	}
	return got, nil
}

// Call dispatches hook name. Historic hooks are called through CallHistoric
// and return the collected results.
func (r *Relay) Call(name string, kwargs hook.Args) (any, error) {
	return r.CallExcluding(name, kwargs, nil)
}

// CallExcluding dispatches hook name without the implementations of the
// named plugins.
func (r *Relay) CallExcluding(name string, kwargs hook.Args, exclude []string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hc := r.reg.HookCaller(name)
	if hc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHook, name)
	}
	if kwargs == nil {
		kwargs = hook.Args{}
	}

	var caller hook.Caller = hc
	if len(exclude) > 0 {
		plugins := make([]any, 0, len(exclude))
		for _, pname := range exclude {
			p := r.reg.Plugin(pname)
			if p == nil {
				return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pname)
			}
			plugins = append(plugins, p)
		}
		sub, err := r.reg.SubsetHookCaller(name, plugins)
		if err != nil {
			return nil, err
		}
		caller = sub
	}

	if caller.IsHistoric() {
		results := []any{}
		err := caller.CallHistoric(func(v any) { results = append(results, v) }, kwargs)
		if err != nil {
			return nil, err
		}
		return results, nil
	}
	return caller.Call(kwargs)
}

// Unregister removes the plugin registered under name.
func (r *Relay) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.reg.HasPlugin(name) {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	r.reg.UnregisterName(name)
	delete(r.adapters, name)
	r.event(name, journal.EventUnregistered, "")
	r.logger.Info("plugin unregistered", "plugin", name)
	return nil
}

// Block unregisters name, if registered, and prevents it from registering
// again until the relay restarts.
func (r *Relay) Block(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.SetBlocked(name)
	delete(r.adapters, name)
	r.event(name, journal.EventBlocked, "")
	r.logger.Info("plugin blocked", "plugin", name)
}

// Unblock lifts a block. It reports whether name was blocked.
func (r *Relay) Unblock(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Unblock(name)
}

// Reload rediscovers plugins and registers new or changed ones. Historic
// hooks, including the startup hook, replay into them.
func (r *Relay) Reload() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded, err := r.loadPlugins()
	if err != nil {
		return nil, err
	}
	r.logger.Info("plugins reloaded", "registered", loaded)
	return loaded, nil
}

// Journal returns the call journal, or ErrJournalOff.
func (r *Relay) Journal() (*journal.Journal, error) {
	if r.journal == nil {
		return nil, ErrJournalOff
	}
	return r.journal, nil
}

// Uptime returns how long the relay has been running.
func (r *Relay) Uptime() time.Duration {
	return time.Since(r.started)
}

// Close detaches the journal and closes its database.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.undo != nil {
		r.undo()
		r.undo = nil
	}
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}
