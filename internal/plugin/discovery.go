package plugin

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/hookrelay/internal/protocol"
)

const manifestFilename = "manifest.yaml"

var hookNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Catalog holds discovered plugins indexed by name.
type Catalog struct {
	plugins map[string]*Plugin
}

// NewCatalog creates an empty plugin catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		plugins: make(map[string]*Plugin),
	}
}

// Get retrieves a plugin by name.
func (c *Catalog) Get(name string) (*Plugin, bool) {
	p, ok := c.plugins[name]
	return p, ok
}

// All returns all discovered plugins.
func (c *Catalog) All() map[string]*Plugin {
	return c.plugins
}

// Names returns the plugin names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add puts a plugin in the catalog.
func (c *Catalog) Add(plugin *Plugin) error {
	if _, exists := c.plugins[plugin.Name]; exists {
		return fmt.Errorf("plugin %q already discovered", plugin.Name)
	}
	c.plugins[plugin.Name] = plugin
	return nil
}

// Discover scans a single pluginsDir for plugins with manifest.yaml and validates them.
// Returns a catalog of valid plugins. Invalid plugins are logged but not fatal.
func Discover(pluginsDir string, logger func(level, msg string, args ...any)) (*Catalog, error) {
	return DiscoverMany([]string{pluginsDir}, logger)
}

// DiscoverMany scans multiple plugin roots for manifest.yaml files and validates plugins.
// Roots are processed in input order; duplicate plugin names keep the first discovered plugin.
func DiscoverMany(pluginRoots []string, logger func(level, msg string, args ...any)) (*Catalog, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	if len(pluginRoots) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}

	absRoots := make([]string, 0, len(pluginRoots))
	seenRoots := make(map[string]struct{}, len(pluginRoots))
	for _, root := range pluginRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("plugin root does not exist: %s", absRoot)
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("plugin root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}

	catalog := NewCatalog()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			pluginPath := filepath.Dir(path)

			plugin, err := loadPlugin(pluginPath, absRoots)
			if err != nil {
				logger("warn", "failed to load plugin", "root", root, "path", pluginPath, "error", err.Error())
				return nil
			}

			if err := catalog.Add(plugin); err != nil {
				existing, _ := catalog.Get(plugin.Name)
				logger(
					"warn",
					"duplicate plugin ignored (keeping first discovered)",
					"plugin", plugin.Name,
					"ignored_path", plugin.Path,
					"kept_path", existing.Path,
				)
				return nil
			}

			logger("info", "discovered plugin",
				"plugin", plugin.Name,
				"path", plugin.Path,
				"version", plugin.Version,
				"hooks", plugin.HookNames(),
				"digest", plugin.Digest,
			)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}

	return catalog, nil
}

// loadPlugin reads and validates a single plugin.
func loadPlugin(pluginPath string, roots []string) (*Plugin, error) {
	manifestPath := filepath.Join(pluginPath, manifestFilename)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if manifest.Protocol != protocol.Version {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, protocol.Version)
	}

	entrypointPath := filepath.Join(pluginPath, manifest.Entrypoint)

	if err := validateTrustInRoots(entrypointPath, pluginPath, roots); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	sum := blake3.Sum256(data)

	return &Plugin{
		Name:        manifest.Name,
		Path:        pluginPath,
		Entrypoint:  entrypointPath,
		Protocol:    manifest.Protocol,
		Version:     manifest.Version,
		Description: manifest.Description,
		Hooks:       manifest.Hooks,
		ConfigKeys:  manifest.ConfigKeys,
		Digest:      hex.EncodeToString(sum[:]),
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}

	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}

	// Check for path traversal in entrypoint
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}

	if len(m.Hooks) == 0 {
		return fmt.Errorf("at least one hook must be declared")
	}

	targets := make(map[string]struct{}, len(m.Hooks))
	for _, h := range m.Hooks {
		if h.Name == "" {
			return fmt.Errorf("hook name is required")
		}
		if !hookNamePattern.MatchString(h.Name) {
			return fmt.Errorf("invalid hook name %q", h.Name)
		}
		if h.RenameTo != "" && !hookNamePattern.MatchString(h.RenameTo) {
			return fmt.Errorf("invalid rename_to %q for hook %q", h.RenameTo, h.Name)
		}
		if _, dup := targets[h.Target()]; dup {
			return fmt.Errorf("hook %q declared more than once", h.Target())
		}
		targets[h.Target()] = struct{}{}

		seen := make(map[string]struct{}, len(h.Args))
		for _, arg := range h.Args {
			if !hookNamePattern.MatchString(arg) {
				return fmt.Errorf("invalid argument name %q for hook %q", arg, h.Name)
			}
			if _, dup := seen[arg]; dup {
				return fmt.Errorf("duplicate argument %q for hook %q", arg, h.Name)
			}
			seen[arg] = struct{}{}
		}
	}

	return nil
}

func validateTrustInRoots(entrypointPath, pluginPath string, pluginRoots []string) error {
	if len(pluginRoots) == 0 {
		return fmt.Errorf("no plugin roots configured")
	}

	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}

	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	// Check entrypoint is under one of the configured plugin roots
	inApprovedRoot := false
	for _, root := range pluginRoots {
		resolvedRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("failed to resolve plugin root symlink %s: %w", root, err)
		}
		if strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
			inApprovedRoot = true
			break
		}
	}
	if !inApprovedRoot {
		return fmt.Errorf("entrypoint %s is not under any configured plugin root", resolvedEntrypoint)
	}

	// Check entrypoint is under plugin directory
	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}

	return nil
}
