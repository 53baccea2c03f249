// Package web exposes the load engine over a JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"

	"github.com/JonMunkholm/loadengine/internal/config"
	"github.com/JonMunkholm/loadengine/internal/core"
	"github.com/JonMunkholm/loadengine/internal/logging"
	"github.com/JonMunkholm/loadengine/internal/web/middleware"
)

// Store is the persistence the server needs: the engine's store plus run
// history and row counts. *store.Store satisfies it.
type Store interface {
	core.Store
	SaveRun(ctx context.Context, run core.RunSummary) error
	Runs(ctx context.Context, limit int) ([]core.RunSummary, error)
	RowCounts(ctx context.Context, reg *core.Registry) (map[string]int64, error)
}

// Server is the HTTP server for the load engine.
type Server struct {
	cfg      *config.Config
	registry *core.Registry
	store    Store
	fs       afero.Fs
	engine   *core.Orchestrator
	limiter  *core.RunLimiter
	logger   *slog.Logger
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires the routes. Batch directories are read from fsys.
func NewServer(cfg *config.Config, reg *core.Registry, st Store, fsys afero.Fs, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:      cfg,
		registry: reg,
		store:    st,
		fs:       fsys,
		engine:   core.NewOrchestrator(reg, st, logger),
		limiter:  core.NewRunLimiter(core.DefaultMaxConcurrentRuns, cfg.Load.RunWait),
		logger:   logger,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(s.withLogger)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		r.Get("/entities", s.handleListEntities)
		r.Post("/runs", s.handleRun)
		r.Get("/runs", s.handleListRuns)
		r.Post("/load/{entity}", s.handleLoad)
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

	s.logger.Info("server listening",
		"addr", s.server.Addr,
		"max_runs", s.limiter.MaxConcurrent(),
		"run_wait", s.limiter.MaxWait(),
	)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for runs in flight.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if drainErr := s.limiter.WaitForDrain(ctx); drainErr != nil && err == nil {
		err = drainErr
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// withLogger stores the server logger in the request context.
func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), s.logger)))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode failed", "error", err)
	}
}
