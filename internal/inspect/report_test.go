package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/hookrelay/internal/journal"
	"github.com/mattjoyce/hookrelay/internal/storage"
)

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return journal.New(db)
}

func TestBuildReportRendersStepsInRunOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t)

	if _, err := j.RecordEvent(ctx, "lint", journal.EventRegistered, "digest-abc"); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	callID, err := j.RecordCall(ctx, &journal.Call{
		Hook:      "collect",
		Plugins:   []string{"lint", "fmt"},
		Kwargs:    json.RawMessage(`{"path":"/src"}`),
		Status:    journal.StatusOK,
		Result:    json.RawMessage(`["formatted","linted"]`),
		StartedAt: time.Now().Add(time.Hour),
		Duration:  42 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}

	out, err := BuildReport(ctx, j, callID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Call ID     : " + callID,
		"Hook        : collect",
		"Duration    : 42ms",
		`"path": "/src"`,
		"[1] fmt",
		"lifecycle  : <none>",
		"[2] lint",
		"lifecycle  : registered at",
		"detail     : digest-abc",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in report:\n%s", want, out)
		}
	}
	if strings.Index(out, "[1] fmt") > strings.Index(out, "[2] lint") {
		t.Fatalf("expected fmt before lint:\n%s", out)
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openJournal(t)

	msg := "lint failed"
	callID, err := j.RecordCall(ctx, &journal.Call{
		Hook:    "collect",
		Plugins: []string{"lint"},
		Status:  journal.StatusError,
		Error:   &msg,
	})
	if err != nil {
		t.Fatalf("RecordCall: %v", err)
	}

	out, err := BuildJSONReport(ctx, j, callID)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Status != "error" || report.Error != msg {
		t.Fatalf("unexpected status/error: %q %q", report.Status, report.Error)
	}
	if len(report.Steps) != 1 || report.Steps[0].Plugin != "lint" || report.Steps[0].LastEvent != "" {
		t.Fatalf("unexpected steps: %+v", report.Steps)
	}
}

func TestBuildReportUnknownCall(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	if _, err := BuildReport(context.Background(), j, "missing"); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := BuildReport(context.Background(), j, " "); err == nil {
		t.Fatalf("expected error for empty call id")
	}
}
