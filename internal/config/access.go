package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PluginView is the effective settings of one plugin after defaults.
type PluginView struct {
	Name    string         `yaml:"name" json:"name"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Blocked bool           `yaml:"blocked" json:"blocked"`
	Timeout time.Duration  `yaml:"timeout" json:"timeout"`
	Config  map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// GetPath resolves a dot path such as journal.path or hooks.0.args, or an
// entity address such as plugin:lint or hook:collect.
func (c *Config) GetPath(path string) (any, error) {
	if strings.Contains(path, ":") {
		return c.GetEntity(path)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return walk(tree, path)
}

// GetEntity resolves type:name. plugin:NAME returns the plugin's effective
// settings, hook:NAME its declaration; a name of * returns all of them.
func (c *Config) GetEntity(address string) (any, error) {
	kind, name, ok := strings.Cut(address, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid entity address %q (expected type:name)", address)
	}

	switch kind {
	case "plugin":
		if name == "*" {
			views := make([]PluginView, 0, len(c.Plugins))
			for n := range c.Plugins {
				views = append(views, c.pluginView(n))
			}
			slices.SortFunc(views, func(a, b PluginView) int { return strings.Compare(a.Name, b.Name) })
			return views, nil
		}
		if _, ok := c.Plugins[name]; !ok {
			return nil, fmt.Errorf("plugin %q is not configured", name)
		}
		return c.pluginView(name), nil

	case "hook":
		if name == "*" {
			return c.Hooks, nil
		}
		for _, h := range c.Hooks {
			if h.Name == name {
				return h, nil
			}
		}
		return nil, fmt.Errorf("hook %q is not declared", name)
	}
	return nil, fmt.Errorf("unsupported entity type %q (use plugin or hook)", kind)
}

func (c *Config) pluginView(name string) PluginView {
	return PluginView{
		Name:    name,
		Enabled: c.PluginEnabled(name),
		Blocked: slices.Contains(c.Blocked, name),
		Timeout: c.PluginTimeout(name),
		Config:  c.Plugins[name].Config,
	}
}

// walk follows path through decoded YAML. Numeric segments index sequences.
func walk(node any, path string) (any, error) {
	current := node
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		switch n := current.(type) {
		case map[string]any:
			v, ok := n[seg]
			if !ok {
				return nil, fmt.Errorf("path %q: key %q not found", path, seg)
			}
			current = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(n) {
				return nil, fmt.Errorf("path %q: index %q out of range (0..%d)", path, seg, len(n)-1)
			}
			current = n[i]
		default:
			return nil, fmt.Errorf("path %q stops at %q: not a map or list", path, seg)
		}
	}
	return current, nil
}
