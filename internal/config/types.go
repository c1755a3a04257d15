package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hookrelay configuration.
type Config struct {
	Include     []string              `yaml:"include,omitempty"`
	Service     ServiceConfig         `yaml:"service"`
	PluginRoots []string              `yaml:"plugin_roots"`
	Blocked     []string              `yaml:"blocked,omitempty"`
	Plugins     map[string]PluginConf `yaml:"plugins,omitempty"`
	Hooks       []HookConf            `yaml:"hooks,omitempty"`
	Journal     JournalConfig         `yaml:"journal"`
	API         APIConfig             `yaml:"api,omitempty"`

	// SourceFiles holds the parsed YAML of every loaded file, keyed by path.
	SourceFiles map[string]*yaml.Node `yaml:"-" json:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Project   string `yaml:"project"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// PluginConf defines configuration for a single plugin.
type PluginConf struct {
	Enabled *bool          `yaml:"enabled,omitempty"`
	Timeout time.Duration  `yaml:"timeout,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// HookConf declares one hook specification.
type HookConf struct {
	Name           string            `yaml:"name"`
	Args           []string          `yaml:"args,omitempty"`
	FirstResult    bool              `yaml:"firstresult,omitempty"`
	Historic       bool              `yaml:"historic,omitempty"`
	WarnOnImpl     string            `yaml:"warn_on_impl,omitempty"`
	WarnOnImplArgs map[string]string `yaml:"warn_on_impl_args,omitempty"`
}

// JournalConfig defines where hook calls are recorded.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
	// ReadKey grants the read-only routes. Calls and plugin changes need APIKey.
	ReadKey string `yaml:"read_key,omitempty"`
}

// DefaultPluginTimeout bounds a single plugin process run.
const DefaultPluginTimeout = 30 * time.Second

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "hookrelay",
			Project:   "hookrelay",
			LogLevel:  "info",
			LogFormat: "json",
		},
		PluginRoots: []string{"./plugins"},
		Plugins:     make(map[string]PluginConf),
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./data/journal.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8585",
		},
	}
}

// PluginTimeout returns the configured timeout for plugin name.
func (c *Config) PluginTimeout(name string) time.Duration {
	if pc, ok := c.Plugins[name]; ok && pc.Timeout > 0 {
		return pc.Timeout
	}
	return DefaultPluginTimeout
}

// PluginEnabled reports whether plugin name may be loaded. Plugins without
// an entry, or without an explicit enabled flag, are enabled.
func (c *Config) PluginEnabled(name string) bool {
	pc, ok := c.Plugins[name]
	return !ok || pc.Enabled == nil || *pc.Enabled
}
