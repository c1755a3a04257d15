package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/hookrelay/internal/log"
	"github.com/mattjoyce/hookrelay/internal/protocol"
)

const (
	maxStderrBytes         = 64 * 1024
	terminationGracePeriod = 5 * time.Second
)

// ProcessError reports a plugin process that failed to produce a response.
type ProcessError struct {
	Entrypoint string
	Stderr     string
	Err        error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v (stderr: %s)", e.Entrypoint, e.Err, firstLine(e.Stderr))
	}
	return fmt.Sprintf("%s: %v", e.Entrypoint, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Runner spawns plugin entrypoints. It is safe for concurrent use.
type Runner struct {
	logger *slog.Logger
	grace  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithGracePeriod overrides the time between SIGTERM and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// NewRunner creates a process runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{grace: terminationGracePeriod}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithComponent("dispatch")
	}
	return r
}

// Run spawns entrypoint, writes req to its stdin and decodes the response
// from stdout. The process is terminated when timeout elapses or ctx is done.
func (r *Runner) Run(ctx context.Context, entrypoint string, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	logger := r.logger.With("entrypoint", entrypoint, "hook", req.Hook, "phase", string(req.Phase), "call_id", req.CallID)

	resp, stderr, err := r.spawn(ctx, entrypoint, req, timeout, logger)
	if err != nil {
		return nil, &ProcessError{Entrypoint: entrypoint, Stderr: stderr, Err: err}
	}
	if stderr != "" {
		logger.Debug("plugin stderr", "stderr", stderr)
	}
	return resp, nil
}

// spawn runs the plugin subprocess. Returns the response, stderr output, and any error.
func (r *Runner) spawn(
	ctx context.Context,
	entrypoint string,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Not CommandContext: termination is managed here.
	cmd := exec.Command(entrypoint)
	cmd.Dir = filepath.Dir(entrypoint)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("plugin execution timed out, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case <-ctx.Done():
		logger.Warn("plugin execution cancelled, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			// A failed stdin write usually explains a missing response.
			if werr := <-writeErr; werr != nil {
				return nil, stderrStr, werr
			}
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}

		return resp, stderrStr, nil
	}
}

// terminate sends SIGTERM, then SIGKILL once the grace period expires, and
// waits for the process to exit.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("plugin exited after SIGTERM")
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
