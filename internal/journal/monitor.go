package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/registry"
)

// Monitor journals every hook call dispatched through a registry.
type Monitor struct {
	journal *Journal
	ctx     context.Context
	logger  *slog.Logger

	mu     sync.Mutex
	starts []time.Time // one per in-flight call; nested calls stack
}

// NewMonitor returns a Monitor writing to j under ctx.
func NewMonitor(ctx context.Context, j *Journal, logger *slog.Logger) *Monitor {
	return &Monitor{journal: j, ctx: ctx, logger: logger}
}

// Attach installs the monitor on r and returns the func that removes it.
func (m *Monitor) Attach(r *registry.Registry) (undo func()) {
	return r.AddHookCallMonitoring(m.before, m.after)
}

func (m *Monitor) before(hookName string, impls []*hook.Impl, kwargs hook.Args) {
	m.mu.Lock()
	m.starts = append(m.starts, time.Now())
	m.mu.Unlock()
}

func (m *Monitor) after(outcome *hook.Result, hookName string, impls []*hook.Impl, kwargs hook.Args) {
	m.mu.Lock()
	start := time.Now()
	if n := len(m.starts); n > 0 {
		start = m.starts[n-1]
		m.starts = m.starts[:n-1]
	}
	m.mu.Unlock()

	plugins := make([]string, 0, len(impls))
	for _, impl := range impls {
		plugins = append(plugins, impl.PluginName())
	}

	c := &Call{
		Hook:      hookName,
		Plugins:   plugins,
		Kwargs:    encode(map[string]any(kwargs)),
		StartedAt: start,
		Duration:  time.Since(start),
		Status:    StatusOK,
	}
	if err := outcome.Err(); err != nil {
		msg := err.Error()
		c.Status = StatusError
		c.Error = &msg
	} else {
		c.Result = encode(outcome.Value())
	}

	if _, err := m.journal.RecordCall(m.ctx, c); err != nil {
		m.logger.Error("failed to journal hook call", "hook", hookName, "error", err)
	}
}

// encode renders v as JSON. Values JSON cannot represent are stored as their
// printed form.
func encode(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err == nil {
		return data
	}
	data, _ = json.Marshal(fmt.Sprintf("%v", v))
	return data
}
