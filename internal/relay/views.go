package relay

import (
	"slices"

	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/plugin"
)

// ImplInfo describes one registered implementation.
type ImplInfo struct {
	Plugin        string   `json:"plugin"`
	Args          []string `json:"args"`
	Wrapper       bool     `json:"wrapper,omitempty"`
	LegacyWrapper bool     `json:"legacy_wrapper,omitempty"`
	TryFirst      bool     `json:"tryfirst,omitempty"`
	TryLast       bool     `json:"trylast,omitempty"`
	Optional      bool     `json:"optional,omitempty"`
}

// HookInfo describes a hook and its implementations in the order they run.
type HookInfo struct {
	Name        string     `json:"name"`
	HasSpec     bool       `json:"has_spec"`
	Args        []string   `json:"args,omitempty"`
	FirstResult bool       `json:"firstresult,omitempty"`
	Historic    bool       `json:"historic,omitempty"`
	Impls       []ImplInfo `json:"impls"`
}

// PluginInfo describes a registered plugin.
type PluginInfo struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"` // process | in-process
	Version string   `json:"version,omitempty"`
	Path    string   `json:"path,omitempty"`
	Digest  string   `json:"digest,omitempty"`
	Hooks   []string `json:"hooks"`
}

func describeHook(hc hook.Caller) HookInfo {
	info := HookInfo{Name: hc.Name(), HasSpec: hc.HasSpec(), Historic: hc.IsHistoric(), Impls: []ImplInfo{}}
	if spec := hc.Spec(); spec != nil {
		info.Args = spec.ArgNames()
		info.FirstResult = spec.FirstResult()
	}
	impls := hc.Impls()
	slices.Reverse(impls)
	for _, impl := range impls {
		info.Impls = append(info.Impls, ImplInfo{
			Plugin:        impl.PluginName(),
			Args:          impl.ArgNames(),
			Wrapper:       impl.Wrapper(),
			LegacyWrapper: impl.LegacyWrapper(),
			TryFirst:      impl.TryFirst(),
			TryLast:       impl.TryLast(),
			Optional:      impl.Optional(),
		})
	}
	return info
}

// Hooks describes every known hook, sorted by name.
func (r *Relay) Hooks() []HookInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.reg.HookNames()
	out := make([]HookInfo, 0, len(names))
	for _, name := range names {
		out = append(out, describeHook(r.reg.HookCaller(name)))
	}
	return out
}

// Hook describes hook name.
func (r *Relay) Hook(name string) (HookInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hc := r.reg.HookCaller(name)
	if hc == nil {
		return HookInfo{}, false
	}
	return describeHook(hc), true
}

// Plugins describes every registered plugin in registration order.
func (r *Relay) Plugins() []PluginInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []PluginInfo
	for _, np := range r.reg.ListNamePlugin() {
		info := PluginInfo{Name: np.Name, Kind: "in-process", Hooks: []string{}}
		if a, ok := np.Plugin.(*plugin.Adapter); ok {
			p := a.Plugin()
			info.Kind = "process"
			info.Version = p.Version
			info.Path = p.Path
			info.Digest = p.Digest
		}
		for _, hc := range r.reg.HookCallers(np.Plugin) {
			info.Hooks = append(info.Hooks, hc.Name())
		}
		out = append(out, info)
	}
	return out
}

// Blocked returns the blocked plugin names, sorted.
func (r *Relay) Blocked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.reg.BlockedNames()
	slices.Sort(names)
	return names
}
