package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "hook":
		return runHookNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "config":
		return runConfigNoun(args)
	case "journal":
		return runJournalNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: hookrelay version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("hookrelay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`hookrelay - Hook registry and dispatcher for process plugins

Usage:
  hookrelay <noun> <action> [flags]

Core Resources (Nouns):
  system    Relay lifecycle
  hook      Hook specifications and calls
  plugin    Plugin discovery and registration
  config    Configuration validation and integrity
  journal   Recorded hook calls

System Commands:
  system start        Start the relay (and API server) in the foreground
  system status       Show whether a relay holds the instance lock

Hook Commands:
  hook list           Show hooks and their implementations in call order
  hook call <name>    Call a hook once with --kwargs JSON

Plugin Commands:
  plugin list         Show discovered plugins and their registration state

Config Commands:
  config check        Validate config against discovered plugins
  config lock         Write integrity checksums for the config files
  config get <path>   Print one config value
  config show         Print the effective configuration

Journal Commands:
  journal list        Show recent hook calls
  journal inspect <id> Show one call with plugin lifecycle state
  journal prune       Delete calls and events older than --older-than

General:
  version             Show version information
  help                Show this help message

Use 'hookrelay <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// nounAction is one action of a noun with its help text.
type nounAction struct {
	help string
	run  func(args []string) int
}

// dispatchNoun runs the action named by args[0], printing help on request.
func dispatchNoun(noun string, args []string, actions map[string]nounAction, order []string) int {
	usage := func(w *os.File) {
		fmt.Fprintf(w, "Usage: hookrelay %s <action> [flags]\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(order, ", "))
	}
	if len(args) < 1 {
		usage(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		usage(os.Stdout)
		return 0
	}

	action, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		return 1
	}
	if hasHelpFlag(args[1:]) {
		fmt.Println(action.help)
		return 0
	}
	return action.run(args[1:])
}

// resolveConfigPath applies the --config flag, then HOOKRELAY_CONFIG, then
// ./config.yaml.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("HOOKRELAY_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}
