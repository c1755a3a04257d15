package api

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event types published on /events.
const (
	EventHookCalled         = "hook.called"
	EventHookFailed         = "hook.failed"
	EventPluginUnregistered = "plugin.unregistered"
	EventPluginBlocked      = "plugin.blocked"
	EventPluginsReloaded    = "plugins.reloaded"
)

// Event is one entry on the /events stream. Subject is the hook or plugin the
// event is about, empty for relay-wide events.
type Event struct {
	ID      int64
	Type    string
	Subject string
	At      time.Time
	Data    []byte // single-line JSON
}

// EventFilter selects events by type prefix and subject. Zero values match
// everything.
type EventFilter struct {
	TypePrefixes []string
	Subject      string
}

// Match reports whether ev passes the filter.
func (f EventFilter) Match(ev Event) bool {
	if f.Subject != "" && ev.Subject != f.Subject {
		return false
	}
	if len(f.TypePrefixes) == 0 {
		return true
	}
	for _, p := range f.TypePrefixes {
		if strings.HasPrefix(ev.Type, p) {
			return true
		}
	}
	return false
}

type subscriber struct {
	ch     chan Event
	filter EventFilter
}

// EventHub fans hook and plugin events out to stream clients and keeps the
// most recent ones for clients that reconnect.
type EventHub struct {
	mu       sync.Mutex
	lastID   int64
	capacity int
	recent   []Event // oldest first, at most capacity
	subs     map[*subscriber]struct{}
}

// NewEventHub returns a hub that keeps the last capacity events.
func NewEventHub(capacity int) *EventHub {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventHub{
		capacity: capacity,
		recent:   make([]Event, 0, capacity),
		subs:     make(map[*subscriber]struct{}),
	}
}

// Publish records an event and delivers it to matching subscribers. A data
// value that does not marshal is published as {}.
func (h *EventHub) Publish(eventType, subject string, data any) Event {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, Subject: subject, At: time.Now().UTC(), Data: payload}

	if len(h.recent) == h.capacity {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:h.capacity-1]
	}
	h.recent = append(h.recent, ev)

	for sub := range h.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		// A slow client misses events rather than stalling hook calls.
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of future events matching filter and a cancel
// func that closes it. Cancel may be called more than once.
func (h *EventHub) Subscribe(filter EventFilter) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 32), filter: filter}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// Since returns kept events with ID > lastID that match filter, oldest first.
func (h *EventHub) Since(lastID int64, filter EventFilter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Event
	for _, ev := range h.recent {
		if ev.ID > lastID && filter.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}
