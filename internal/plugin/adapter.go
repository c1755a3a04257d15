package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hookrelay/internal/config"
	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/protocol"
)

// Adapter exposes a discovered plugin process as a hook.ImplProvider. Every
// declared hook becomes an implementation that runs the entrypoint.
//
// Regular hooks run once with phase "call". Wrapper hooks run the process
// with phase "setup" when entered and again with phase "teardown" when
// resumed; the teardown request carries the inner outcome and the state the
// setup returned.
type Adapter struct {
	plugin  *Plugin
	runner  Runner
	marker  hook.ImplMarker
	ctx     context.Context
	config  map[string]any
	timeout time.Duration
	logger  *slog.Logger
	newID   func() string
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithConfig sets the plugin config sent with every request.
func WithConfig(cfg map[string]any) AdapterOption {
	return func(a *Adapter) { a.config = cfg }
}

// WithTimeout bounds each process invocation.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithContext sets the context process invocations run under. Cancelling it
// stops in-flight plugin processes.
func WithContext(ctx context.Context) AdapterOption {
	return func(a *Adapter) { a.ctx = ctx }
}

// WithAdapterLogger sets the logger plugin log entries are written to.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter wraps p. Implementations are tagged with marker's project.
func NewAdapter(p *Plugin, runner Runner, marker hook.ImplMarker, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		plugin:  p,
		runner:  runner,
		marker:  marker,
		ctx:     context.Background(),
		timeout: config.DefaultPluginTimeout,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.WithPlugin(p.Name).With("component", "plugin")
	}
	return a
}

// PluginName makes the manifest name the canonical registry name.
func (a *Adapter) PluginName() string { return a.plugin.Name }

// Plugin returns the wrapped plugin.
func (a *Adapter) Plugin() *Plugin { return a.plugin }

// HookImpls implements hook.ImplProvider.
func (a *Adapter) HookImpls() []hook.ImplDecl {
	decls := make([]hook.ImplDecl, 0, len(a.plugin.Hooks))
	for _, h := range a.plugin.Hooks {
		var fn any
		if h.IsWrapper() {
			fn = hook.WrapperFunc(func(args hook.Args) (hook.Frame, error) {
				return a.setup(h, args)
			})
		} else {
			fn = hook.ArgsFunc(func(args hook.Args) (any, error) {
				resp, err := a.invoke(h, protocol.PhaseCall, args, nil, nil)
				if err != nil {
					return nil, err
				}
				return resp.Result, nil
			})
		}
		decls = append(decls, a.marker.Impl(h.Name, fn, hook.P(h.Args...), h.Opts()))
	}
	return decls
}

func (a *Adapter) setup(h HookDecl, args hook.Args) (hook.Frame, error) {
	resp, err := a.invoke(h, protocol.PhaseSetup, args, nil, nil)
	if err != nil {
		return nil, err
	}
	return &processFrame{adapter: a, decl: h, args: args, state: resp.State}, nil
}

func (a *Adapter) invoke(h HookDecl, phase protocol.Phase, args hook.Args, state map[string]any, outcome *protocol.Outcome) (*protocol.Response, error) {
	req := &protocol.Request{
		Protocol:   protocol.Version,
		CallID:     a.newID(),
		Hook:       h.Name,
		Phase:      phase,
		Args:       args,
		Config:     a.config,
		State:      state,
		Outcome:    outcome,
		DeadlineAt: time.Now().Add(a.timeout).UTC(),
	}
	logger := a.logger.With("hook", h.Target(), "phase", string(phase), "call_id", req.CallID)

	start := time.Now()
	resp, err := a.runner.Run(a.ctx, a.plugin.Entrypoint, req, a.timeout)
	if err != nil {
		logger.Error("plugin process failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, &CallError{Plugin: a.plugin.Name, Hook: h.Target(), Phase: phase, Err: err}
	}

	for _, entry := range resp.Logs {
		logEntry(logger, entry)
	}

	if !resp.OK() {
		logger.Warn("plugin returned error", "error", resp.Error)
		return nil, &CallError{Plugin: a.plugin.Name, Hook: h.Target(), Phase: phase, Message: resp.Error}
	}
	logger.Debug("plugin call completed", "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func logEntry(logger *slog.Logger, entry protocol.LogEntry) {
	switch entry.Level {
	case "debug":
		logger.Debug(entry.Message, "source", "plugin")
	case "warn":
		logger.Warn(entry.Message, "source", "plugin")
	case "error":
		logger.Error(entry.Message, "source", "plugin")
	default:
		logger.Info(entry.Message, "source", "plugin")
	}
}

// processFrame is a wrapper whose setup already ran as a process. Resuming it
// runs the teardown process.
type processFrame struct {
	adapter *Adapter
	decl    HookDecl
	args    hook.Args
	state   map[string]any
}

func (f *processFrame) Enter() (hook.Step, error) {
	return hook.Suspended, nil
}

func (f *processFrame) Resume(outcome *hook.Result) (hook.Step, error) {
	inner := &protocol.Outcome{Result: outcome.Value()}
	if err := outcome.Err(); err != nil {
		inner.Error = err.Error()
	}
	resp, err := f.adapter.invoke(f.decl, protocol.PhaseTeardown, f.args, f.state, inner)
	if err != nil {
		return hook.Completed, err
	}
	if resp.Replace {
		outcome.ForceResult(resp.Result)
	}
	return hook.Completed, nil
}
