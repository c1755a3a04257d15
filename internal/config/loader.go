package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var hookNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads and parses configuration from a file or a directory holding
// config.yaml. Files listed under include are merged in order.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, node, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = map[string]*yaml.Node{absPath: node}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	if err := verifyAllConfigHashes(paths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Relative paths are anchored at the root config file.
	base := filepath.Dir(absPath)
	for i, root := range cfg.PluginRoots {
		cfg.PluginRoots[i] = resolvePath(base, root)
	}
	cfg.Journal.Path = resolvePath(base, cfg.Journal.Path)

	return cfg, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		absPath, err := filepath.Abs(resolvePath(baseDir, includePath))
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, node, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		cfg.SourceFiles[absPath] = node
		deepMergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile parses a single config file after env interpolation.
func loadConfigFile(path string) (*Config, *yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := []byte(interpolateEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(interpolated, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(interpolated, &node); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, &node, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.Project != "" {
		dst.Service.Project = src.Service.Project
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}

	dst.PluginRoots = append(dst.PluginRoots, src.PluginRoots...)
	dst.Blocked = append(dst.Blocked, src.Blocked...)
	dst.Hooks = append(dst.Hooks, src.Hooks...)

	if src.Plugins != nil {
		if dst.Plugins == nil {
			dst.Plugins = make(map[string]PluginConf)
		}
		for name, plugin := range src.Plugins {
			dst.Plugins[name] = plugin
		}
	}

	if src.Journal.Enabled {
		dst.Journal.Enabled = true
	}
	if src.Journal.Path != "" {
		dst.Journal.Path = src.Journal.Path
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.APIKey != "" {
		dst.API.APIKey = src.API.APIKey
	}
	if src.API.ReadKey != "" {
		dst.API.ReadKey = src.API.ReadKey
	}
}

func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No .checksums file means the directory is not locked.
			continue
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: hookrelay config lock --config %s", basename, dir, dir)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: hookrelay config lock --config %s", path, err, dir)
			}
		}
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.Project == "" {
		cfg.Service.Project = defaults.Service.Project
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if len(cfg.PluginRoots) == 0 {
		cfg.PluginRoots = defaults.PluginRoots
	}
	if cfg.Plugins == nil {
		cfg.Plugins = defaults.Plugins
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.Project == "" {
		return fmt.Errorf("service.project is required")
	}

	seen := make(map[string]bool, len(cfg.Hooks))
	for i, h := range cfg.Hooks {
		if !hookNamePattern.MatchString(h.Name) {
			return fmt.Errorf("hooks[%d]: invalid hook name %q", i, h.Name)
		}
		if seen[h.Name] {
			return fmt.Errorf("hooks[%d]: hook %q declared more than once", i, h.Name)
		}
		seen[h.Name] = true
		if h.Historic && h.FirstResult {
			return fmt.Errorf("hook %q: historic hooks cannot be firstresult", h.Name)
		}
		args := make(map[string]bool, len(h.Args))
		for _, a := range h.Args {
			if !hookNamePattern.MatchString(a) {
				return fmt.Errorf("hook %q: invalid argument name %q", h.Name, a)
			}
			if args[a] {
				return fmt.Errorf("hook %q: duplicate argument %q", h.Name, a)
			}
			args[a] = true
		}
		for a := range h.WarnOnImplArgs {
			if !args[a] {
				return fmt.Errorf("hook %q: warn_on_impl_args names unknown argument %q", h.Name, a)
			}
		}
	}

	for name, plugin := range cfg.Plugins {
		if plugin.Timeout < 0 {
			return fmt.Errorf("plugin %q: timeout must not be negative", name)
		}
		if plugin.Config != nil {
			if err := checkUnresolvedEnvVars(plugin.Config, name); err != nil {
				return err
			}
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required when the API is enabled")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.API.APIKey); len(matches) > 1 {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", matches[1])
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.API.ReadKey); len(matches) > 1 {
			return fmt.Errorf("api.read_key: environment variable ${%s} is not set", matches[1])
		}
		if cfg.API.ReadKey != "" && cfg.API.ReadKey == cfg.API.APIKey {
			return fmt.Errorf("api.read_key must differ from api.api_key")
		}
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, pluginName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if matches := envVarPattern.FindStringSubmatch(v); len(matches) > 1 {
				return fmt.Errorf("plugin %q: environment variable ${%s} is not set (config.%s)", pluginName, matches[1], key)
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, pluginName); err != nil {
				return err
			}
		}
	}
	return nil
}
