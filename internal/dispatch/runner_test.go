package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func writeScript(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func testRequest() *protocol.Request {
	return &protocol.Request{
		Protocol: protocol.Version,
		CallID:   "call-1",
		Hook:     "collect",
		Phase:    protocol.PhaseCall,
		Args:     map[string]any{"path": "/src"},
	}
}

func TestRunner_Success(t *testing.T) {
	script := `#!/bin/sh
cat > request.json
echo '{"status":"ok","result":{"count":42},"logs":[{"level":"info","message":"done"}]}'
`
	entry := writeScript(t, script)

	resp, err := NewRunner().Run(context.Background(), entry, testRequest(), 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected ok response, got %+v", resp)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["count"] != float64(42) {
		t.Errorf("unexpected result: %#v", resp.Result)
	}
	if len(resp.Logs) != 1 {
		t.Errorf("expected 1 log entry, got %d", len(resp.Logs))
	}

	// The process runs in its plugin directory and receives the request on stdin.
	data, err := os.ReadFile(filepath.Join(filepath.Dir(entry), "request.json"))
	if err != nil {
		t.Fatalf("request not written in plugin dir: %v", err)
	}
	var got protocol.Request
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid request json: %v", err)
	}
	if got.Hook != "collect" || got.CallID != "call-1" || got.Args["path"] != "/src" {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestRunner_NonZeroExitWithResponse(t *testing.T) {
	script := `#!/bin/sh
cat > /dev/null
echo '{"status":"error","error":"something went wrong"}'
exit 1
`
	entry := writeScript(t, script)

	resp, err := NewRunner().Run(context.Background(), entry, testRequest(), 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.OK() || resp.Error != "something went wrong" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRunner_ProtocolError(t *testing.T) {
	script := `#!/bin/sh
cat > /dev/null
echo "boom happened" >&2
echo "not json"
`
	entry := writeScript(t, script)

	_, err := NewRunner().Run(context.Background(), entry, testRequest(), 5*time.Second)
	if err == nil {
		t.Fatal("expected protocol error")
	}
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProcessError, got %T", err)
	}
	if !strings.Contains(perr.Stderr, "boom happened") {
		t.Errorf("stderr not captured: %q", perr.Stderr)
	}
	if !strings.Contains(err.Error(), "boom happened") {
		t.Errorf("error should mention stderr: %v", err)
	}
}

func TestRunner_Timeout(t *testing.T) {
	// exec so SIGTERM goes directly to sleep
	script := `#!/bin/sh
read input
exec sleep 10
`
	entry := writeScript(t, script)

	start := time.Now()
	_, err := NewRunner(WithGracePeriod(time.Second)).Run(context.Background(), entry, testRequest(), 200*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestRunner_KillAfterGrace(t *testing.T) {
	// The ignored SIGTERM disposition survives exec.
	script := `#!/bin/sh
trap '' TERM
read input
exec sleep 10
`
	entry := writeScript(t, script)

	start := time.Now()
	_, err := NewRunner(WithGracePeriod(200*time.Millisecond)).Run(context.Background(), entry, testRequest(), 200*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("SIGKILL not sent in time: %v", elapsed)
	}
}

func TestRunner_ContextCancel(t *testing.T) {
	script := `#!/bin/sh
read input
exec sleep 10
`
	entry := writeScript(t, script)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := NewRunner(WithGracePeriod(time.Second)).Run(ctx, entry, testRequest(), 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunner_AlreadyCancelled(t *testing.T) {
	entry := writeScript(t, "#!/bin/sh\nexit 0\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner().Run(ctx, entry, testRequest(), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunner_MissingEntrypoint(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), filepath.Join(t.TempDir(), "missing.sh"), testRequest(), time.Second)
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProcessError, got %v", err)
	}
}

func TestTruncateStderr(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{
			name:  "short string unchanged",
			input: "short",
			want:  5,
		},
		{
			name:  "exactly at limit unchanged",
			input: string(make([]byte, maxStderrBytes)),
			want:  maxStderrBytes,
		},
		{
			name:  "over limit truncated",
			input: string(make([]byte, maxStderrBytes+1000)),
			want:  maxStderrBytes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateStderr(tt.input)
			if len(got) != tt.want {
				t.Errorf("truncateStderr() length = %d, want %d", len(got), tt.want)
			}
		})
	}
}
