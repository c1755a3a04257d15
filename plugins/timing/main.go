// Command timing is a hookrelay process plugin that wraps hooks and reports
// how long the implementations inside it took.
//
// Declare it as a wrapper for each hook to time:
//
//	hooks:
//	  - name: collect
//	    wrapper: true
//	    optional: true
//
// With config annotate: true the teardown replaces the hook result with
// {"result": ..., "span_id": ..., "elapsed_ms": ...}.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hookrelay/internal/protocol"
)

type pluginConfig struct {
	Annotate bool
	SlowMS   int64
}

func main() {
	resp := handle(os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(in io.Reader) protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	return handleRequest(req, time.Now())
}

func handleRequest(req protocol.Request, now time.Time) protocol.Response {
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol %d", req.Protocol))
	}
	cfg := parseConfig(req.Config)

	switch req.Phase {
	case protocol.PhaseSetup:
		return protocol.Response{
			Status: "ok",
			State: map[string]any{
				"span_id":    uuid.NewString(),
				"started_at": now.UTC().Format(time.RFC3339Nano),
			},
		}
	case protocol.PhaseTeardown:
		return teardown(req, cfg, now)
	case protocol.PhaseCall:
		return errResp(fmt.Sprintf("timing only wraps hooks; declare %q with wrapper: true", req.Hook))
	default:
		return errResp(fmt.Sprintf("unknown phase: %s", req.Phase))
	}
}

func teardown(req protocol.Request, cfg pluginConfig, now time.Time) protocol.Response {
	spanID, _ := req.State["span_id"].(string)
	raw, _ := req.State["started_at"].(string)
	started, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return errResp(fmt.Sprintf("teardown without setup state: %v", err))
	}
	elapsed := now.Sub(started)

	level := "info"
	if cfg.SlowMS > 0 && elapsed.Milliseconds() >= cfg.SlowMS {
		level = "warn"
	}
	msg := fmt.Sprintf("%s took %dms (span %s)", req.Hook, elapsed.Milliseconds(), spanID)
	if req.Outcome != nil && req.Outcome.Error != "" {
		msg += ": " + req.Outcome.Error
	}
	resp := protocol.Response{
		Status: "ok",
		Logs:   []protocol.LogEntry{{Level: level, Message: msg}},
	}

	// An inner error passes through untouched.
	if cfg.Annotate && req.Outcome != nil && req.Outcome.Error == "" {
		resp.Replace = true
		resp.Result = map[string]any{
			"result":     req.Outcome.Result,
			"span_id":    spanID,
			"elapsed_ms": elapsed.Milliseconds(),
		}
	}
	return resp
}

func parseConfig(raw map[string]any) pluginConfig {
	var cfg pluginConfig
	if v, ok := raw["annotate"].(bool); ok {
		cfg.Annotate = v
	}
	switch v := raw["slow_ms"].(type) {
	case float64:
		cfg.SlowMS = int64(v)
	case int:
		cfg.SlowMS = int64(v)
	}
	return cfg
}

func errResp(msg string) protocol.Response {
	return protocol.Response{Status: "error", Error: msg}
}
