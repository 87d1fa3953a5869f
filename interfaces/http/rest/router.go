// Package rest assembles the platform's HTTP surface: the frontend module
// manifest, the conversational assistant, and the knowledge graph, plus the
// operational endpoints around them.
package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"datalens/application/ports"
	"datalens/domain/graph"
	"datalens/interfaces/http/rest/handlers"
	"datalens/interfaces/http/rest/middleware"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/observability"
)

// Options carries the HTTP-surface knobs the router needs
type Options struct {
	// CORSOrigins lists the origins allowed to call the API
	CORSOrigins []string

	// AssistantRateRPM limits assistant requests per client IP and minute.
	// Zero disables rate limiting.
	AssistantRateRPM int

	// DefaultSchema is served by the knowledge-graph endpoints when the
	// caller does not name a schema
	DefaultSchema string

	// Debug exposes error causes and stack traces in responses
	Debug bool
}

// Router creates and configures the HTTP router
type Router struct {
	registry handlers.ModuleIndex
	agent    handlers.Assistant
	graphs   ports.GraphProvider
	metrics  *observability.Collector
	logger   *zap.Logger
	opts     Options
}

// NewRouter creates a new router instance. A nil metrics collector disables
// the /metrics endpoint and per-request observations.
func NewRouter(
	registry handlers.ModuleIndex,
	agent handlers.Assistant,
	graphs ports.GraphProvider,
	metrics *observability.Collector,
	logger *zap.Logger,
	opts Options,
) *Router {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Router{
		registry: registry,
		agent:    agent,
		graphs:   graphs,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	errorHandler := apperrors.NewErrorHandler(rt.logger, rt.opts.Debug)

	// Operational endpoints
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	router.Route("/api", func(r chi.Router) {
		// Frontend module manifest
		r.Route("/modules/frontend-registry", func(r chi.Router) {
			h := handlers.NewRegistryHandler(rt.registry, errorHandler, rt.logger)
			r.Get("/", h.GetManifest)
			r.Get("/health", h.Health)
			r.Post("/refresh", h.Refresh)
			r.Get("/{moduleID}", h.GetModule)
		})

		// Conversational assistant. Turns invoke an LLM, so this group is
		// rate limited per client.
		r.Route("/ai-assistant/conversations", func(r chi.Router) {
			if rt.opts.AssistantRateRPM > 0 {
				r.Use(httprate.LimitByIP(rt.opts.AssistantRateRPM, time.Minute))
			}
			h := handlers.NewAssistantHandler(rt.agent, errorHandler, rt.logger)
			r.Post("/", h.StartConversation)
			r.Get("/{conversationID}", h.GetConversation)
			r.Delete("/{conversationID}", h.EndConversation)
			r.Get("/{conversationID}/context", h.GetContext)
			r.Post("/{conversationID}/messages", h.PostMessage)
			r.Post("/{conversationID}/messages/stream", h.StreamMessage)
		})

		// Knowledge graph
		r.Route("/knowledge-graph-v2", func(r chi.Router) {
			h := handlers.NewGraphHandler(rt.graphs, rt.opts.DefaultSchema, errorHandler, rt.logger)
			r.Get("/schema", h.GetSchema)
			r.Post("/schema/rebuild", h.RebuildSchema)
			r.Get("/status", h.GetStatus)
			r.Delete("/cache", h.DeleteCache)
			r.Get("/health", h.Health)
		})
	})

	return router
}

// healthCheck reports process liveness
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck reports whether the module index finished loading and the
// cache store answers. The cache key is empty exactly until the first
// successful Load; the status probe reaches the embedded store without
// triggering a graph build.
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if rt.registry.CacheKey() == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"loading"}`))
		return
	}
	schema := rt.opts.DefaultSchema
	if schema == "" {
		schema = handlers.DefaultSchema
	}
	if _, err := rt.graphs.Status(req.Context(), graph.KindSchema, schema); err != nil {
		rt.logger.Warn("readiness probe failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"store unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
