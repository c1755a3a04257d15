package api

import (
	"github.com/mattjoyce/hookrelay/internal/journal"
	"github.com/mattjoyce/hookrelay/internal/relay"
)

// CallRequest is the JSON body for POST /hooks/{name}/call
type CallRequest struct {
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Exclude []string       `json:"exclude,omitempty"`
}

// CallResponse is returned by POST /hooks/{name}/call
type CallResponse struct {
	Hook       string `json:"hook"`
	Result     any    `json:"result"`
	DurationMS int64  `json:"duration_ms"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PluginsLoaded int    `json:"plugins_loaded"`
	Hooks         int    `json:"hooks"`
}

// HookListResponse is returned by GET /hooks
type HookListResponse struct {
	Hooks []relay.HookInfo `json:"hooks"`
}

// PluginListResponse is returned by GET /plugins
type PluginListResponse struct {
	Plugins []relay.PluginInfo `json:"plugins"`
	Blocked []string           `json:"blocked"`
}

// ReloadResponse is returned by POST /plugins/reload
type ReloadResponse struct {
	Registered []string `json:"registered"`
}

// JournalResponse is returned by GET /journal
type JournalResponse struct {
	Calls []journal.Call `json:"calls"`
}

// JournalEventsResponse is returned by GET /journal/events
type JournalEventsResponse struct {
	Events []journal.Event `json:"events"`
}
