// Package dispatch runs plugin processes: spawn-per-request subprocess
// execution with protocol v1 JSON over stdin/stdout.
//
// Key features:
//   - One process per request, working directory set to the plugin directory
//   - Timeout enforcement with SIGTERM → 5s grace → SIGKILL
//   - Context cancellation uses the same termination path
//   - Stderr capture (capped at 64KB), attached to failures
//   - Lenient response decoding (unknown fields ignored)
//
// Error handling:
//   - Process cannot start → *ProcessError wrapping the exec error
//   - Timeout → *ProcessError wrapping context.DeadlineExceeded
//   - Cancellation → *ProcessError wrapping ctx.Err()
//   - Protocol error (invalid JSON, bad status) → *ProcessError
//   - Non-zero exit with a valid response → response returned, exit logged
package dispatch
