// Package doctor cross-checks a hookrelay configuration against the plugins
// discovered under its plugin roots, without starting any plugin process.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"

	"github.com/mattjoyce/hookrelay/internal/config"
	"github.com/mattjoyce/hookrelay/internal/plugin"
	"github.com/mattjoyce/hookrelay/internal/relay"
	"github.com/mattjoyce/hookrelay/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered plugins.
type Doctor struct {
	cfg     *config.Config
	catalog *plugin.Catalog
	specs   map[string]config.HookConf
}

// New creates a Doctor from a loaded config and plugin catalog.
func New(cfg *config.Config, catalog *plugin.Catalog) *Doctor {
	specs := make(map[string]config.HookConf, len(cfg.Hooks)+1)
	specs[relay.StartupHook] = config.HookConf{
		Name:     relay.StartupHook,
		Args:     []string{"service", "started_at"},
		Historic: true,
	}
	for _, h := range cfg.Hooks {
		specs[h.Name] = h
	}
	return &Doctor{cfg: cfg, catalog: catalog, specs: specs}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validatePluginRoots(r)
	d.validatePluginRefs(r)
	d.validateHookImpls(r)
	d.validateJournal(r)
	d.warnAPIExposure(r)
	d.warnStaleBlocks(r)
	d.warnDeprecatedHooks(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// loadable reports whether the relay would try to register plugin name.
func (d *Doctor) loadable(name string) bool {
	return d.cfg.PluginEnabled(name) && !slices.Contains(d.cfg.Blocked, name)
}

func (d *Doctor) validatePluginRoots(r *Result) {
	if len(d.cfg.PluginRoots) == 0 {
		d.addError(r, "service", "plugin_roots", "at least one plugin root is required")
		return
	}
	for i, root := range d.cfg.PluginRoots {
		if _, err := os.Stat(root); err != nil {
			d.addWarning(r, "service", fmt.Sprintf("plugin_roots[%d]", i),
				fmt.Sprintf("plugin root %q does not exist and will be skipped", root))
		}
	}
}

// validatePluginRefs checks that plugins in config are discoverable and
// configured.
func (d *Doctor) validatePluginRefs(r *Result) {
	names := make([]string, 0, len(d.cfg.Plugins))
	for name := range d.cfg.Plugins {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		pc := d.cfg.Plugins[name]
		if !d.loadable(name) {
			continue
		}
		p, ok := d.catalog.Get(name)
		if !ok {
			d.addError(r, "plugin_refs", fmt.Sprintf("plugins.%s", name),
				fmt.Sprintf("plugin %q in config but not found in plugin_roots", name))
			continue
		}
		for _, key := range p.MissingConfig(pc.Config) {
			d.addError(r, "plugin_refs", fmt.Sprintf("plugins.%s.config.%s", name, key),
				fmt.Sprintf("plugin %q requires config key %q", name, key))
		}
	}
}

// validateHookImpls checks every manifest hook against the configured hook
// specifications, the way registration would.
func (d *Doctor) validateHookImpls(r *Result) {
	for _, name := range d.catalog.Names() {
		if !d.loadable(name) {
			continue
		}
		p, _ := d.catalog.Get(name)
		for _, h := range p.Hooks {
			field := fmt.Sprintf("%s.hooks.%s", name, h.Name)
			spec, ok := d.specs[h.Target()]
			if !ok {
				if !h.Optional {
					d.addWarning(r, "hooks", field,
						fmt.Sprintf("plugin %q implements %q which has no specification", name, h.Target()))
				}
				continue
			}
			for _, arg := range h.Args {
				if !slices.Contains(spec.Args, arg) {
					d.addError(r, "hooks", field,
						fmt.Sprintf("argument %q is not declared by hook %q (accepted: %s)",
							arg, spec.Name, strings.Join(spec.Args, ", ")))
				}
			}
			if spec.Historic && h.IsWrapper() {
				d.addError(r, "hooks", field,
					fmt.Sprintf("historic hook %q cannot have wrappers", spec.Name))
			}
		}
	}
}

// validateJournal rejects an enabled journal on a network filesystem.
func (d *Doctor) validateJournal(r *Result) {
	if !d.cfg.Journal.Enabled {
		return
	}
	fs, err := storage.ProbeFilesystem(d.cfg.Journal.Path)
	if err != nil {
		d.addWarning(r, "journal", "journal.path", fmt.Sprintf("cannot inspect journal location: %v", err))
		return
	}
	if fs.Network {
		d.addError(r, "journal", "journal.path",
			fmt.Sprintf("journal %q is on network filesystem %s; use a local disk", d.cfg.Journal.Path, fs.Type))
	}
}

// warnAPIExposure warns when the API listens beyond the loopback interface.
func (d *Doctor) warnAPIExposure(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if host == "localhost" {
		return
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return
	}
	d.addWarning(r, "api", "api.listen",
		fmt.Sprintf("API listens on %q, reachable beyond this host", d.cfg.API.Listen))
}

// warnStaleBlocks warns about blocked names no discovered plugin uses.
func (d *Doctor) warnStaleBlocks(r *Result) {
	for i, name := range d.cfg.Blocked {
		if _, ok := d.catalog.Get(name); !ok {
			d.addWarning(r, "blocked", fmt.Sprintf("blocked[%d]", i),
				fmt.Sprintf("blocked plugin %q was not discovered", name))
		}
	}
}

// warnDeprecatedHooks reports plugins that will trigger warn_on_impl or
// warn_on_impl_args at registration.
func (d *Doctor) warnDeprecatedHooks(r *Result) {
	for _, name := range d.catalog.Names() {
		if !d.loadable(name) {
			continue
		}
		p, _ := d.catalog.Get(name)
		for _, h := range p.Hooks {
			spec, ok := d.specs[h.Target()]
			if !ok {
				continue
			}
			field := fmt.Sprintf("%s.hooks.%s", name, h.Name)
			if spec.WarnOnImpl != "" {
				d.addWarning(r, "deprecated", field, spec.WarnOnImpl)
			}
			for _, arg := range h.Args {
				if msg, ok := spec.WarnOnImplArgs[arg]; ok {
					d.addWarning(r, "deprecated", field, msg)
				}
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
