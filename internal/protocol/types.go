package protocol

import "time"

// Version is the hook protocol version spoken over stdin/stdout.
const Version = 1

// Phase says which part of a hook implementation a request runs.
type Phase string

const (
	// PhaseCall runs a regular implementation.
	PhaseCall Phase = "call"
	// PhaseSetup runs a wrapper up to its suspension point.
	PhaseSetup Phase = "setup"
	// PhaseTeardown resumes a wrapper with the inner outcome.
	PhaseTeardown Phase = "teardown"
)

// Valid reports a known phase.
func (p Phase) Valid() bool {
	return p == PhaseCall || p == PhaseSetup || p == PhaseTeardown
}

// Request represents the request envelope sent to plugins via stdin.
type Request struct {
	Protocol   int            `json:"protocol"`
	CallID     string         `json:"call_id"`
	Hook       string         `json:"hook"`
	Phase      Phase          `json:"phase"`
	Args       map[string]any `json:"args"`
	Config     map[string]any `json:"config,omitempty"`
	State      map[string]any `json:"state,omitempty"`   // teardown only, as returned by setup
	Outcome    *Outcome       `json:"outcome,omitempty"` // teardown only
	DeadlineAt time.Time      `json:"deadline_at"`
}

// Outcome is the result of the inner implementations handed to a wrapper
// teardown.
type Outcome struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Response represents the response envelope received from plugins via stdout.
type Response struct {
	Status string `json:"status"` // ok | error
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
	// Replace makes a teardown's Result the hook's final result.
	Replace bool           `json:"replace,omitempty"`
	State   map[string]any `json:"state,omitempty"` // setup only
	Logs    []LogEntry     `json:"logs,omitempty"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// OK reports a successful response.
func (r *Response) OK() bool {
	return r.Status == "ok"
}
