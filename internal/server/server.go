// Package server implements the filestore HTTP server: the /files routes,
// the system API documented through huma, and the middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stjepano/filestore/internal/config"
	"github.com/stjepano/filestore/internal/handlers"
	"github.com/stjepano/filestore/internal/journal"
	"github.com/stjepano/filestore/internal/storage"
)

// Server is the filestore HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	store      storage.Store
	journal    *journal.Journal
	httpServer *http.Server
}

// HealthCheck is the result of one dependency probe.
type HealthCheck struct {
	Status string `json:"status" example:"ok" doc:"ok or error"`
	Error  string `json:"error,omitempty" doc:"Failure detail"`
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string                 `json:"status" example:"ok" doc:"Health status"`
	Checks map[string]HealthCheck `json:"checks,omitempty" doc:"Per-dependency results"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

// JournalInput selects how many journal entries to return.
type JournalInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum number of entries"`
}

// JournalOutput is the Huma output struct for the journal endpoint.
type JournalOutput struct {
	Body []journal.Entry
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithJournal exposes j through GET /journal.
func WithJournal(j *journal.Journal) Option {
	return func(s *Server) {
		s.journal = j
	}
}

// New creates a Server serving store and wires up all routes.
func New(cfg *config.Config, store storage.Store, opts ...Option) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("filestore API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		store:  store,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> requestID -> requestLogger -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = requestLogger(handler)
	handler = requestID(handler)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. The system
// endpoints go through Huma for OpenAPI documentation; the /files subtree
// streams bodies and is mounted as plain handlers.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the server and, when enabled, whether the content root is reachable.",
		Tags:        []string{"System"},
	}, s.health)

	// Huma only does one method per registration.
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.cfg.Observability.HealthCheck && s.store.HealthCheck(r.Context()) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if s.journal != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "list-journal",
			Method:      http.MethodGet,
			Path:        "/journal",
			Summary:     "Recent mutations",
			Description: "Returns the most recent journaled mutations, newest first.",
			Tags:        []string{"System"},
		}, func(ctx context.Context, input *JournalInput) (*JournalOutput, error) {
			entries, err := s.journal.Recent(ctx, input.Limit)
			if err != nil {
				return nil, huma.Error500InternalServerError("reading journal", err)
			}
			return &JournalOutput{Body: entries}, nil
		})
	}

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Mount("/files", handlers.Routes(
		handlers.NewBucketHandler(s.store),
		handlers.NewFileHandler(s.store, s.cfg.Server.MaxUploadSize),
	))
}

func (s *Server) health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: "ok"}}
	if !s.cfg.Observability.HealthCheck {
		return out, nil
	}

	out.Body.Checks = map[string]HealthCheck{"storage": {Status: "ok"}}
	if err := s.store.HealthCheck(ctx); err != nil {
		out.Status = http.StatusServiceUnavailable
		out.Body.Status = "error"
		slog.Warn("Health check failed", "check", "storage", "error", err)
		out.Body.Checks["storage"] = HealthCheck{Status: "error", Error: "content root unavailable"}
	}
	if s.journal != nil {
		if _, err := s.journal.Count(ctx); err != nil {
			slog.Warn("Health check failed", "check", "journal", "error", err)
			out.Body.Checks["journal"] = HealthCheck{Status: "error", Error: "journal unavailable"}
		} else {
			out.Body.Checks["journal"] = HealthCheck{Status: "ok"}
		}
	}
	return out, nil
}
