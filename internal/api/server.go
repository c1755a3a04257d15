package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hookrelay/internal/hook"
	"github.com/mattjoyce/hookrelay/internal/journal"
	"github.com/mattjoyce/hookrelay/internal/relay"
)

// HookRelay is the part of *relay.Relay the API serves.
type HookRelay interface {
	Hooks() []relay.HookInfo
	Hook(name string) (relay.HookInfo, bool)
	CallExcluding(name string, kwargs hook.Args, exclude []string) (any, error)
	Plugins() []relay.PluginInfo
	Blocked() []string
	Unregister(name string) error
	Block(name string)
	Reload() ([]string, error)
	Journal() (*journal.Journal, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey grants every protected route.
	APIKey string
	// ReadKey, when set, grants only the read routes.
	ReadKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	relay     HookRelay
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	events    *EventHub
}

// New creates a new API server instance
func New(config Config, rl HookRelay, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		relay:     rl,
		logger:    logger,
		startedAt: time.Now(),
		events:    NewEventHub(256),
	}
}

// Handler returns the server's routes, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // hook calls may run several plugin processes
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		admin := requireAccess(s, accessAdmin)

		r.Get("/openapi.json", s.handleOpenAPI)

		r.Route("/hooks", func(r chi.Router) {
			r.Get("/", s.handleListHooks)
			r.Get("/{name}", s.handleGetHook)
			r.With(admin).Post("/{name}/call", s.handleCallHook)
		})

		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.handleListPlugins)
			r.With(admin).Post("/reload", s.handleReload)
			r.With(admin).Delete("/{name}", s.handleUnregister)
			r.With(admin).Post("/{name}/block", s.handleBlock)
		})

		r.Get("/journal", s.handleJournalCalls)
		r.Get("/journal/events", s.handleJournalEvents)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
