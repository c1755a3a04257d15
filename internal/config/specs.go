package config

import "github.com/mattjoyce/hookrelay/internal/hook"

// HookTable is the hooks section of a config as a hook.SpecProvider.
type HookTable struct {
	marker hook.SpecMarker
	hooks  []HookConf
}

// HookSpecs exposes the configured hooks, tagged with marker's project.
func (c *Config) HookSpecs(marker hook.SpecMarker) *HookTable {
	return &HookTable{marker: marker, hooks: c.Hooks}
}

// Len returns the number of configured hooks.
func (t *HookTable) Len() int { return len(t.hooks) }

// HookSpecs implements hook.SpecProvider.
func (t *HookTable) HookSpecs() []hook.SpecDecl {
	decls := make([]hook.SpecDecl, 0, len(t.hooks))
	for _, h := range t.hooks {
		opts := hook.SpecOpts{
			FirstResult: h.FirstResult,
			Historic:    h.Historic,
		}
		if h.WarnOnImpl != "" {
			opts.WarnOnImpl = &hook.Warning{Category: "deprecated", Message: h.WarnOnImpl}
		}
		if len(h.WarnOnImplArgs) > 0 {
			opts.WarnOnImplArgs = make(map[string]*hook.Warning, len(h.WarnOnImplArgs))
			for arg, msg := range h.WarnOnImplArgs {
				opts.WarnOnImplArgs[arg] = &hook.Warning{Category: "deprecated", Message: msg}
			}
		}
		decls = append(decls, t.marker.Spec(h.Name, hook.P(h.Args...), opts))
	}
	return decls
}
