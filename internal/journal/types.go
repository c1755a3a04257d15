package journal

import (
	"encoding/json"
	"time"
)

// Status is the outcome of a journaled hook call.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// EventKind names a plugin lifecycle event.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventUnregistered EventKind = "unregistered"
	EventBlocked      EventKind = "blocked"
	EventRejected     EventKind = "rejected"
)

// Call is one dispatched hook call.
type Call struct {
	ID        string          `json:"id"`
	Hook      string          `json:"hook"`
	Plugins   []string        `json:"plugins"`
	Kwargs    json.RawMessage `json:"kwargs"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration_ns"`
}

// Event is a plugin lifecycle entry.
type Event struct {
	ID        string    `json:"id"`
	Plugin    string    `json:"plugin"`
	Kind      EventKind `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CallFilter narrows ListCalls. Zero values mean no restriction.
type CallFilter struct {
	Hook   string
	Status Status
	Since  time.Time
	Limit  int
}
