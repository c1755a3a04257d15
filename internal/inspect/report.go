// Package inspect renders a journaled hook call together with the plugin
// lifecycle state in effect when it ran.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/hookrelay/internal/journal"
)

// eventScan bounds how far back each plugin's lifecycle history is read.
const eventScan = 200

// Report is the structured JSON representation of a call report.
type Report struct {
	CallID     string          `json:"call_id"`
	Hook       string          `json:"hook"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Kwargs     json.RawMessage `json:"kwargs"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Steps      []Step          `json:"steps"`
}

// Step is one implementation of the call, in the order it ran.
type Step struct {
	Position int    `json:"position"`
	Plugin   string `json:"plugin"`
	// LastEvent is the plugin's most recent lifecycle event at call time.
	LastEvent string    `json:"last_event,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	EventAt   time.Time `json:"event_at,omitzero"`
}

// BuildReport renders a terminal-friendly report for a journaled call.
func BuildReport(ctx context.Context, j *journal.Journal, callID string) (string, error) {
	report, err := gatherReportData(ctx, j, callID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Call Report\n")
	fmt.Fprintf(&out, "Call ID     : %s\n", report.CallID)
	fmt.Fprintf(&out, "Hook        : %s\n", report.Hook)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&out, "Duration    : %dms\n", report.DurationMS)
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       : %s\n", report.Error)
	}
	fmt.Fprintf(&out, "\n")

	writeBlock(&out, "kwargs", report.Kwargs)
	if len(report.Result) > 0 {
		writeBlock(&out, "result", report.Result)
	}

	if len(report.Steps) == 0 {
		fmt.Fprintf(&out, "No implementations ran.\n")
	}
	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s\n", step.Position, step.Plugin)
		if step.LastEvent == "" {
			fmt.Fprintf(&out, "    lifecycle  : <none>\n")
			continue
		}
		fmt.Fprintf(&out, "    lifecycle  : %s at %s\n", step.LastEvent, step.EventAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&out, "    detail     : %s\n", renderUnset(step.Detail, "<none>"))
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON call report.
func BuildJSONReport(ctx context.Context, j *journal.Journal, callID string) (string, error) {
	report, err := gatherReportData(ctx, j, callID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, j *journal.Journal, callID string) (*Report, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, fmt.Errorf("call_id is required")
	}

	call, err := j.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		CallID:     call.ID,
		Hook:       call.Hook,
		Status:     string(call.Status),
		StartedAt:  call.StartedAt,
		DurationMS: call.Duration.Milliseconds(),
		Kwargs:     call.Kwargs,
		Result:     call.Result,
		Steps:      make([]Step, 0, len(call.Plugins)),
	}
	if call.Error != nil {
		report.Error = *call.Error
	}

	// Journaled plugins are in registration order; implementations run in
	// reverse.
	for i := len(call.Plugins) - 1; i >= 0; i-- {
		name := call.Plugins[i]
		step := Step{Position: len(report.Steps) + 1, Plugin: name}

		events, err := j.ListEvents(ctx, name, eventScan)
		if err != nil {
			return nil, fmt.Errorf("load events for %s: %w", name, err)
		}
		// Newest first: the first event not after the call is the one in effect.
		for _, ev := range events {
			if ev.CreatedAt.After(call.StartedAt) {
				continue
			}
			step.LastEvent = string(ev.Kind)
			step.Detail = ev.Detail
			step.EventAt = ev.CreatedAt
			break
		}
		report.Steps = append(report.Steps, step)
	}

	return report, nil
}

func writeBlock(out *strings.Builder, label string, raw json.RawMessage) {
	fmt.Fprintf(out, "%s:\n", label)
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(raw)), "\n") {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, "\n")
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
