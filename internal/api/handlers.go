package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/journal"
	"github.com/mattjoyce/hookrelay/internal/plugin"
	"github.com/mattjoyce/hookrelay/internal/relay"
)

const maxListLimit = 1000

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		PluginsLoaded: len(s.relay.Plugins()),
		Hooks:         len(s.relay.Hooks()),
	})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.relay.Hooks()))
}

// handleListHooks handles GET /hooks.
func (s *Server) handleListHooks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HookListResponse{Hooks: s.relay.Hooks()})
}

// handleGetHook handles GET /hooks/{name}.
func (s *Server) handleGetHook(w http.ResponseWriter, r *http.Request) {
	info, ok := s.relay.Hook(chi.URLParam(r, "name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "hook not found")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleCallHook handles POST /hooks/{name}/call.
func (s *Server) handleCallHook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req CallRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	start := time.Now()
	result, err := s.relay.CallExcluding(name, hook.Args(req.Kwargs), req.Exclude)
	elapsed := time.Since(start)

	if err != nil {
		status := callErrorStatus(err)
		if status != http.StatusNotFound {
			s.events.Publish(EventHookFailed, name, map[string]any{"hook": name, "error": err.Error(), "duration_ms": elapsed.Milliseconds()})
		}
		s.writeError(w, status, err.Error())
		return
	}

	s.events.Publish(EventHookCalled, name, map[string]any{"hook": name, "duration_ms": elapsed.Milliseconds()})
	respondJSON(w, http.StatusOK, CallResponse{Hook: name, Result: result, DurationMS: elapsed.Milliseconds()})
}

// callErrorStatus maps a hook call failure to an HTTP status.
func callErrorStatus(err error) int {
	var (
		bindErr  *hook.HookCallError
		protoErr *hook.ProtocolError
		valErr   *hook.ValidationError
		callErr  *plugin.CallError
	)
	switch {
	case errors.Is(err, relay.ErrUnknownHook):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrUnknownPlugin),
		errors.As(err, &bindErr),
		errors.As(err, &protoErr),
		errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &callErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleListPlugins handles GET /plugins.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	plugins := s.relay.Plugins()
	if plugins == nil {
		plugins = []relay.PluginInfo{}
	}
	blocked := s.relay.Blocked()
	if blocked == nil {
		blocked = []string{}
	}
	respondJSON(w, http.StatusOK, PluginListResponse{Plugins: plugins, Blocked: blocked})
}

// handleUnregister handles DELETE /plugins/{name}.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.relay.Unregister(name); err != nil {
		if errors.Is(err, relay.ErrUnknownPlugin) {
			s.writeError(w, http.StatusNotFound, "plugin not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.events.Publish(EventPluginUnregistered, name, map[string]any{"plugin": name})
	w.WriteHeader(http.StatusNoContent)
}

// handleBlock handles POST /plugins/{name}/block.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.relay.Block(name)
	s.events.Publish(EventPluginBlocked, name, map[string]any{"plugin": name})
	w.WriteHeader(http.StatusNoContent)
}

// handleReload handles POST /plugins/reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	loaded, err := s.relay.Reload()
	if err != nil {
		s.logger.Error("plugin reload failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if loaded == nil {
		loaded = []string{}
	}
	s.events.Publish(EventPluginsReloaded, "", map[string]any{"registered": loaded})
	respondJSON(w, http.StatusOK, ReloadResponse{Registered: loaded})
}

// handleJournalCalls handles GET /journal?hook=&status=&since=&limit=.
func (s *Server) handleJournalCalls(w http.ResponseWriter, r *http.Request) {
	j, err := s.relay.Journal()
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	q := r.URL.Query()
	filter := journal.CallFilter{
		Hook:   q.Get("hook"),
		Status: journal.Status(q.Get("status")),
	}
	if filter.Status != "" && filter.Status != journal.StatusOK && filter.Status != journal.StatusError {
		s.writeError(w, http.StatusBadRequest, "status must be ok or error")
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = since
	}
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	calls, err := j.ListCalls(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}
	if calls == nil {
		calls = []journal.Call{}
	}
	respondJSON(w, http.StatusOK, JournalResponse{Calls: calls})
}

// handleJournalEvents handles GET /journal/events?plugin=&limit=.
func (s *Server) handleJournalEvents(w http.ResponseWriter, r *http.Request) {
	j, err := s.relay.Journal()
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := j.ListEvents(r.Context(), r.URL.Query().Get("plugin"), limit)
	if err != nil {
		s.logger.Error("failed to list plugin events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list plugin events")
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	respondJSON(w, http.StatusOK, JournalEventsResponse{Events: events})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return n, nil
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
