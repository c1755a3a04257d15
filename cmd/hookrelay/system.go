package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/hookrelay/internal/api"
	"github.com/mattjoyce/hookrelay/internal/config"
	"github.com/mattjoyce/hookrelay/internal/lock"
	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/relay"
)

func runSystemNoun(args []string) int {
	return dispatchNoun("system", args, map[string]nounAction{
		"start": {
			help: "Usage: hookrelay system start [--config PATH] [--journal PATH]\n" +
				"Start the relay in the foreground. The API server starts when api.enabled is set.",
			run: runStart,
		},
		"status": {
			help: "Usage: hookrelay system status [--config PATH] [--json]\n" +
				"Report whether a relay process holds the instance lock.\n\n" +
				"Exit codes:\n  0  A relay is running\n  1  No relay is running or the check failed",
			run: runSystemStatus,
		},
	}, []string{"start", "status"})
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	journalPath := fs.String("journal", "", "Enable the journal at this path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := resolveConfigPath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *journalPath != "" {
		cfg.Journal.Enabled = true
		cfg.Journal.Path = *journalPath
	}

	log.SetupFormat(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("hookrelay starting", "version", version, "config", path)

	lockPath := lock.PathFor(cfg.Journal.Path)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl, err := relay.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to start relay", "error", err)
		return 1
	}
	defer rl.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:  cfg.API.Listen,
			APIKey:  cfg.API.APIKey,
			ReadKey: cfg.API.ReadKey,
		}, rl, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("hookrelay running (press Ctrl+C to stop, SIGHUP to reload plugins)")

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if loaded, err := rl.Reload(); err != nil {
					logger.Error("plugin reload failed", "error", err)
				} else {
					logger.Info("plugins reloaded on SIGHUP", "registered", loaded)
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			logger.Info("hookrelay stopped")
			return 0
		case err := <-errCh:
			logger.Error("component failed", "error", err)
			cancel()
			return 1
		}
	}
}

type statusReport struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	LockPath string `json:"lock_path"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	report := statusReport{LockPath: lock.PathFor(cfg.Journal.Path)}
	pid, err := lock.Holder(report.LockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check lock: %v\n", err)
		return 1
	}
	report.Running = pid != 0
	report.PID = pid

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else if report.Running {
		fmt.Printf("%s hookrelay running (pid %d, lock %s)\n", styles.OK.Render("●"), pid, report.LockPath)
	} else {
		fmt.Printf("%s hookrelay not running (lock %s)\n", styles.Dim.Render("○"), report.LockPath)
	}

	if !report.Running {
		return 1
	}
	return 0
}
