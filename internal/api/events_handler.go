package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const keepAliveInterval = 15 * time.Second

// handleEvents streams events as Server-Sent Events.
//
//	GET /events?type=hook.,plugin.blocked&subject=collect
//
// A Last-Event-ID header replays kept events newer than that ID first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := eventFilterFromQuery(r)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.events.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sent := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.Since(sent, filter) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		sent = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= sent {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			sent = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventFilterFromQuery(r *http.Request) EventFilter {
	q := r.URL.Query()
	var f EventFilter
	for _, p := range strings.Split(q.Get("type"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			f.TypePrefixes = append(f.TypePrefixes, p)
		}
	}
	f.Subject = strings.TrimSpace(q.Get("subject"))
	return f
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
