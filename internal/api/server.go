package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/config"
	"github.com/JakeFAU/chapterforge/internal/metrics"
	"github.com/JakeFAU/chapterforge/internal/progress"
	"github.com/JakeFAU/chapterforge/internal/provider"
)

const defaultRequestTimeout = 60 * time.Second

// BookService is the job surface the handlers drive.
type BookService interface {
	Submit(ctx context.Context, req book.Request) (book.Job, error)
	Get(ctx context.Context, jobID string) (book.Job, error)
	Events(ctx context.Context, jobID string) <-chan progress.Snapshot
	Retrieve(ctx context.Context, jobID string) (io.ReadCloser, book.Job, error)
	Cleanup(ctx context.Context, jobID string) error
}

// SiteLister reports the sites jobs may target.
type SiteLister interface {
	Sites() []provider.Site
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps are the Server's collaborators. Runs and Sites may be nil.
type Deps struct {
	Books BookService
	Sites SiteLister
	Runs  book.RunRecorder
	Ready []ReadinessCheck
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Streaming routes run for as long as the client listens.
		r.Get("/books/{job_id}/events", s.streamEvents)
		r.Get("/books/{job_id}/download", s.downloadBook)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(timeout))
			r.Post("/books", s.submitBook)
			r.Get("/books/{job_id}", s.getBook)
			r.Delete("/books/{job_id}", s.deleteBook)
			r.Get("/sites", s.listSites)
			r.Get("/runs", s.listRuns)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
