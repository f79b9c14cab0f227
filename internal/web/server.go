// Package web exposes the pipeline over HTTP: a health probe, the two run
// triggers, run status and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/dsvpipe/internal/config"
	"github.com/JonMunkholm/dsvpipe/internal/core"
	"github.com/JonMunkholm/dsvpipe/internal/web/middleware"
)

// Runner starts runs and reports their state. *core.Orchestrator implements it.
type Runner interface {
	RunIngest(ctx context.Context, trigger core.Trigger) (*core.LoadResult, error)
	RunExport(ctx context.Context, trigger core.Trigger) (*core.ExportResult, error)
	Status() core.Status
}

// Pinger probes the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Schedule reports the next timed run. *core.Scheduler implements it.
type Schedule interface {
	NextRun() time.Time
}

// pingTimeout bounds the health probe's database check.
const pingTimeout = 3 * time.Second

// Server is the pipeline's HTTP server.
type Server struct {
	cfg      *config.Config
	runner   Runner
	db       Pinger
	schedule Schedule
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires routes and middleware. schedule may be nil when the
// daily trigger is disabled.
func NewServer(cfg *config.Config, runner Runner, db Pinger, schedule Schedule) *Server {
	s := &Server{
		cfg:      cfg,
		runner:   runner,
		db:       db,
		schedule: schedule,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))
		r.Post("/ingest", s.handleIngest)
		r.Post("/export", s.handleExport)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// writeJSON encodes v with status. Encoding errors are logged since the
// header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
