package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/hookrelay/internal/config"
	"github.com/mattjoyce/hookrelay/internal/inspect"
	"github.com/mattjoyce/hookrelay/internal/journal"
	"github.com/mattjoyce/hookrelay/internal/storage"
)

func runJournalNoun(args []string) int {
	return dispatchNoun("journal", args, map[string]nounAction{
		"list": {
			help: "Usage: hookrelay journal list [--hook NAME] [--status ok|error] [--since DURATION] [--limit N] [--json]\n" +
				"Show recorded hook calls, newest first.",
			run: runJournalList,
		},
		"inspect": {
			help: "Usage: hookrelay journal inspect <call-id> [--json]\n" +
				"Show one call with the lifecycle state of each plugin that ran.",
			run: runJournalInspect,
		},
		"prune": {
			help: "Usage: hookrelay journal prune --older-than DURATION\n" +
				"Delete calls and plugin events older than DURATION (for example 720h).",
			run: runJournalPrune,
		},
	}, []string{"list", "inspect", "prune"})
}

// journalFlags are shared by every journal action.
type journalFlags struct {
	configPath  string
	journalPath string
}

func (f *journalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&f.journalPath, "journal", "", "Journal database path (overrides journal.path)")
}

// open returns the journal named by the flags or the config. The config's
// journal must be enabled unless --journal is given.
func (f *journalFlags) open(ctx context.Context) (*journal.Journal, *sql.DB, error) {
	path := f.journalPath
	if path == "" {
		cfg, err := config.Load(resolveConfigPath(f.configPath))
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		if !cfg.Journal.Enabled {
			return nil, nil, errors.New("journal is disabled (set journal.enabled or pass --journal)")
		}
		path = cfg.Journal.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("journal %s: %w", path, err)
	}
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return journal.New(db), db, nil
}

func runJournalList(args []string) int {
	var jf journalFlags
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	jf.register(fs)
	hookName := fs.String("hook", "", "Only calls of this hook")
	status := fs.String("status", "", "Only calls with this status (ok, error)")
	since := fs.Duration("since", 0, "Only calls started within this duration")
	limit := fs.Int("limit", 20, "Maximum calls to show")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *status != "" && *status != string(journal.StatusOK) && *status != string(journal.StatusError) {
		fmt.Fprintln(os.Stderr, "--status must be ok or error")
		return 1
	}

	ctx := context.Background()
	j, db, err := jf.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	filter := journal.CallFilter{
		Hook:   *hookName,
		Status: journal.Status(*status),
		Limit:  *limit,
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	calls, err := j.ListCalls(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		if calls == nil {
			calls = []journal.Call{}
		}
		data, _ := json.MarshalIndent(calls, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(calls) == 0 {
		fmt.Println("No calls recorded.")
		return 0
	}

	rows := make([][]string, 0, len(calls))
	for _, c := range calls {
		detail := string(c.Result)
		if c.Error != nil {
			detail = *c.Error
		}
		rows = append(rows, []string{
			c.ID,
			c.StartedAt.Local().Format(time.DateTime),
			c.Hook,
			statusText(string(c.Status)),
			fmt.Sprintf("%dms", c.Duration.Milliseconds()),
			strings.Join(c.Plugins, ", "),
			truncate(detail, 48),
		})
	}
	fmt.Println(renderTable([]string{"ID", "STARTED", "HOOK", "STATUS", "DURATION", "PLUGINS", "RESULT / ERROR"}, rows))
	return 0
}

func runJournalInspect(args []string) int {
	var jf journalFlags
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	jf.register(fs)
	jsonOut := fs.Bool("json", false, "Output in JSON")

	var callID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		callID, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if callID == "" && fs.NArg() == 1 {
		callID = fs.Arg(0)
	}
	if callID == "" {
		fmt.Fprintln(os.Stderr, "Usage: hookrelay journal inspect <call-id> [--json]")
		return 1
	}

	ctx := context.Background()
	j, db, err := jf.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, j, callID)
	} else {
		out, err = inspect.BuildReport(ctx, j, callID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}

func runJournalPrune(args []string) int {
	var jf journalFlags
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	jf.register(fs)
	olderThan := fs.Duration("older-than", 0, "Delete entries older than this duration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be a positive duration")
		return 1
	}

	ctx := context.Background()
	j, db, err := jf.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	n, err := j.Prune(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Pruned %d journal entries older than %s.\n", n, *olderThan)
	return 0
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
