package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hookrelay/internal/hook"
)

// HookDecl declares one hook implemented by a plugin process.
type HookDecl struct {
	Name          string   `yaml:"name" json:"name"`
	Args          []string `yaml:"args,omitempty" json:"args,omitempty"`
	Wrapper       bool     `yaml:"wrapper,omitempty" json:"wrapper,omitempty"`
	LegacyWrapper bool     `yaml:"legacy_wrapper,omitempty" json:"legacy_wrapper,omitempty"`
	TryFirst      bool     `yaml:"tryfirst,omitempty" json:"tryfirst,omitempty"`
	TryLast       bool     `yaml:"trylast,omitempty" json:"trylast,omitempty"`
	Optional      bool     `yaml:"optional,omitempty" json:"optional,omitempty"`
	// RenameTo implements the hook of that name while Name stays the name
	// sent to the process.
	RenameTo string `yaml:"rename_to,omitempty" json:"rename_to,omitempty"`
}

// Target returns the hook name the declaration is registered under.
func (d HookDecl) Target() string {
	if d.RenameTo != "" {
		return d.RenameTo
	}
	return d.Name
}

// Opts converts the manifest flags into implementation options.
func (d HookDecl) Opts() hook.ImplOpts {
	return hook.ImplOpts{
		Wrapper:       d.Wrapper,
		LegacyWrapper: d.LegacyWrapper,
		Optional:      d.Optional,
		TryFirst:      d.TryFirst,
		TryLast:       d.TryLast,
		RenameTo:      d.RenameTo,
	}
}

// IsWrapper reports either wrapper style.
func (d HookDecl) IsWrapper() bool {
	return d.Wrapper || d.LegacyWrapper
}

// Hooks is a list of implemented hooks.
//
// Accepted formats:
//   - string array: hooks: [collect_report, startup]
//   - object array: hooks: [{name: collect_report, args: [path], tryfirst: true}]
type Hooks []HookDecl

func (h *Hooks) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*h = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("hooks must be a sequence")
	}

	out := make([]HookDecl, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, HookDecl{Name: strings.TrimSpace(item.Value)})
		case yaml.MappingNode:
			var tmp HookDecl
			if err := item.Decode(&tmp); err != nil {
				return fmt.Errorf("invalid hook object: %w", err)
			}
			tmp.Name = strings.TrimSpace(tmp.Name)
			tmp.RenameTo = strings.TrimSpace(tmp.RenameTo)
			out = append(out, tmp)
		default:
			return fmt.Errorf("invalid hook entry (must be string or object)")
		}
	}

	*h = out
	return nil
}

// Manifest defines the structure of a plugin's manifest.yaml file.
type Manifest struct {
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Protocol    int         `yaml:"protocol"`
	Entrypoint  string      `yaml:"entrypoint"`
	Description string      `yaml:"description,omitempty"`
	Hooks       Hooks       `yaml:"hooks"`
	ConfigKeys  *ConfigKeys `yaml:"config_keys,omitempty"`
}

// ConfigKeys defines required and optional configuration keys for a plugin.
type ConfigKeys struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

// Plugin represents a discovered and validated plugin.
type Plugin struct {
	Name        string // Plugin name from manifest
	Path        string // Absolute path to plugin directory
	Entrypoint  string // Absolute path to entrypoint executable
	Protocol    int    // Protocol version
	Version     string // Plugin version
	Description string // Human-readable description
	Hooks       Hooks  // Implemented hooks
	ConfigKeys  *ConfigKeys
	Digest      string // BLAKE3 hex digest of manifest.yaml
}

// Implements reports whether the plugin declares an implementation for the
// hook named target.
func (p *Plugin) Implements(target string) bool {
	for _, h := range p.Hooks {
		if h.Target() == target {
			return true
		}
	}
	return false
}

// HookNames returns the target hook names in manifest order.
func (p *Plugin) HookNames() []string {
	out := make([]string, 0, len(p.Hooks))
	for _, h := range p.Hooks {
		out = append(out, h.Target())
	}
	return out
}

// MissingConfig returns the required config keys absent from cfg.
func (p *Plugin) MissingConfig(cfg map[string]any) []string {
	if p.ConfigKeys == nil {
		return nil
	}
	var missing []string
	for _, key := range p.ConfigKeys.Required {
		if _, ok := cfg[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
