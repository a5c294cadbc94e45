// Package api serves the lessonflow HTTP API: runs and their live event
// streams, saved workflows, lessons, provider settings and schedules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/internal/runs"
	"github.com/rendis/lessonflow/internal/scheduler"
	"github.com/rendis/lessonflow/internal/secrets"
	"github.com/rendis/lessonflow/internal/store"
	"github.com/rendis/lessonflow/internal/streaming"
	"github.com/rendis/lessonflow/internal/validation"
)

// Deps holds the dependencies for the API server. Providers, Scheduler,
// Kinds and Metrics are optional; their routes answer 404 when unset.
type Deps struct {
	Runs      *runs.Service
	Store     store.Store
	Validator *validation.WorkflowValidator
	Hub       streaming.Hub
	Providers *secrets.ProviderConfigs
	Scheduler *scheduler.Scheduler
	Kinds     func() []actions.HandlerInfo
	Circuits  func() []actions.CircuitStats
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	router chi.Router
}

// NewServer creates the server and mounts its routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{deps: deps}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleStartRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Delete("/{id}", s.handleCancelRun)
			r.Get("/{id}/events", s.handleRunEvents)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/validate", s.handleValidateWorkflow)
			r.Get("/", s.handleListWorkflows)
			r.Put("/{id}", s.handlePutWorkflow)
			r.Get("/{id}", s.handleGetWorkflow)
			r.Delete("/{id}", s.handleDeleteWorkflow)
			r.Post("/{id}/runs", s.handleStartSavedRun)
		})

		r.Route("/lessons", func(r chi.Router) {
			r.Get("/", s.handleListLessons)
			r.Put("/{id}", s.handlePutLesson)
			r.Get("/{id}", s.handleGetLesson)
			r.Delete("/{id}", s.handleDeleteLesson)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleListProviders)
			r.Get("/circuits", s.handleListCircuits)
			r.Put("/{id}", s.handlePutProvider)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Patch("/{id}", s.handleUpdateSchedule)
			r.Delete("/{id}", s.handleDeleteSchedule)
		})

		r.Get("/kinds", s.handleListKinds)
	})
	return r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.deps.Logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"pool":   s.deps.Runs.PoolMetrics(),
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// Request contexts derive from ctx so open event streams end with it.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.deps.Logger.Info("api listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
