package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/mattjoyce/hookrelay/internal/config"
	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/plugin"
	"github.com/mattjoyce/hookrelay/internal/relay"
)

func runHookNoun(args []string) int {
	return dispatchNoun("hook", args, map[string]nounAction{
		"list": {
			help: "Usage: hookrelay hook list [--config PATH] [--json]\n" +
				"Load every plugin and show hooks with their implementations in call order.",
			run: runHookList,
		},
		"call": {
			help: "Usage: hookrelay hook call <name> [--kwargs JSON] [--exclude a,b] [--config PATH]\n" +
				"Call a hook once and print its result as JSON. Calls are journaled when the journal is enabled.",
			run: runHookCall,
		},
	}, []string{"list", "call"})
}

func runPluginNoun(args []string) int {
	return dispatchNoun("plugin", args, map[string]nounAction{
		"list": {
			help: "Usage: hookrelay plugin list [--config PATH] [--json]\n" +
				"Show discovered plugins and whether they registered.",
			run: runPluginList,
		},
	}, []string{"list"})
}

// openRelay loads the config and builds a relay in this process. Logs go to
// stderr so stdout stays machine-readable.
func openRelay(configPath string, withJournal bool) (*relay.Relay, *config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if !withJournal {
		cfg.Journal.Enabled = false
	}

	log.SetupTo(os.Stderr, "warn", "text")
	rl, err := relay.New(context.Background(), cfg, relay.WithLogger(log.WithComponent("relay")))
	if err != nil {
		return nil, nil, err
	}
	return rl, cfg, nil
}

func runHookList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	rl, _, err := openRelay(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rl.Close()

	hooks := rl.Hooks()
	if *jsonOut {
		data, _ := json.MarshalIndent(hooks, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	rows := make([][]string, 0, len(hooks))
	for _, h := range hooks {
		rows = append(rows, []string{
			h.Name,
			strings.Join(h.Args, ", "),
			hookFlags(h),
			implList(h.Impls),
		})
	}
	fmt.Println(renderTable([]string{"HOOK", "ARGS", "FLAGS", "IMPLEMENTATIONS (call order)"}, rows))
	return 0
}

func hookFlags(h relay.HookInfo) string {
	var flags []string
	if !h.HasSpec {
		flags = append(flags, "unspecified")
	}
	if h.FirstResult {
		flags = append(flags, "firstresult")
	}
	if h.Historic {
		flags = append(flags, "historic")
	}
	return strings.Join(flags, ", ")
}

func implList(impls []relay.ImplInfo) string {
	if len(impls) == 0 {
		return styles.Dim.Render("-")
	}
	names := make([]string, 0, len(impls))
	for _, impl := range impls {
		name := impl.Plugin
		switch {
		case impl.Wrapper || impl.LegacyWrapper:
			name += " (wrapper)"
		case impl.TryFirst:
			name += " (tryfirst)"
		case impl.TryLast:
			name += " (trylast)"
		}
		names = append(names, name)
	}
	return strings.Join(names, " → ")
}

func runHookCall(args []string) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	kwargsJSON := fs.String("kwargs", "{}", "Keyword arguments as a JSON object")
	exclude := fs.String("exclude", "", "Comma-separated plugins to leave out")

	// The hook name may come before or after the flags.
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if name == "" && fs.NArg() == 1 {
		name = fs.Arg(0)
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "Usage: hookrelay hook call <name> [--kwargs JSON] [--exclude a,b]")
		return 1
	}

	var kwargs hook.Args
	if err := json.Unmarshal([]byte(*kwargsJSON), &kwargs); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --kwargs: %v\n", err)
		return 1
	}

	var excluded []string
	for _, p := range strings.Split(*exclude, ",") {
		if p = strings.TrimSpace(p); p != "" {
			excluded = append(excluded, p)
		}
	}

	rl, _, err := openRelay(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rl.Close()

	result, err := rl.CallExcluding(name, kwargs, excluded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", styles.Failed.Render("hook call failed:"), err)
		return 1
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

type pluginRow struct {
	Name    string   `json:"name"`
	Version string   `json:"version,omitempty"`
	State   string   `json:"state"`
	Hooks   []string `json:"hooks"`
	Path    string   `json:"path"`
	Digest  string   `json:"digest"`
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	rl, cfg, err := openRelay(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rl.Close()

	catalog, err := discoverCatalog(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin discovery error: %v\n", err)
		return 1
	}

	registered := make(map[string]bool)
	for _, p := range rl.Plugins() {
		registered[p.Name] = true
	}
	blocked := rl.Blocked()

	out := make([]pluginRow, 0, len(catalog.Names()))
	for _, name := range catalog.Names() {
		p, _ := catalog.Get(name)
		state := "rejected"
		switch {
		case registered[name]:
			state = "registered"
		case slices.Contains(blocked, name):
			state = "blocked"
		case !cfg.PluginEnabled(name):
			state = "disabled"
		}
		out = append(out, pluginRow{
			Name:    name,
			Version: p.Version,
			State:   state,
			Hooks:   p.HookNames(),
			Path:    p.Path,
			Digest:  p.Digest,
		})
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(out) == 0 {
		fmt.Println("No plugins discovered.")
		return 0
	}

	rows := make([][]string, 0, len(out))
	for _, p := range out {
		rows = append(rows, []string{p.Name, p.Version, statusText(p.State), strings.Join(p.Hooks, ", "), abbrev(p.Digest)})
	}
	fmt.Println(renderTable([]string{"PLUGIN", "VERSION", "STATE", "HOOKS", "DIGEST"}, rows))
	return 0
}

// discoverCatalog scans the configured plugin roots that exist.
func discoverCatalog(cfg *config.Config) (*plugin.Catalog, error) {
	var roots []string
	for _, root := range cfg.PluginRoots {
		if _, err := os.Stat(root); err == nil {
			roots = append(roots, root)
		}
	}
	if len(roots) == 0 {
		return plugin.NewCatalog(), nil
	}
	return plugin.DiscoverMany(roots, nil)
}

func abbrev(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
