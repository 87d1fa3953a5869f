package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"datalens/application/ports"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
)

// DefaultSchema is the catalog schema served when the caller names none
const DefaultSchema = "default"

// GraphHandler serves the knowledge-graph endpoints over the cache engine.
// The schema graph is the only kind exposed here; data graphs are reached
// through the assistant's graph tools.
type GraphHandler struct {
	graphs ports.GraphProvider
	schema string
	errors *apperrors.ErrorHandler
	logger *zap.Logger
}

// NewGraphHandler creates a new knowledge-graph handler
func NewGraphHandler(graphs ports.GraphProvider, defaultSchema string, errors *apperrors.ErrorHandler, logger *zap.Logger) *GraphHandler {
	if defaultSchema == "" {
		defaultSchema = DefaultSchema
	}
	return &GraphHandler{
		graphs: graphs,
		schema: defaultSchema,
		errors: errors,
		logger: logger,
	}
}

// SchemaGraphMetadata describes how the served graph was obtained
type SchemaGraphMetadata struct {
	Schema      string           `json:"schema"`
	Rebuilt     bool             `json:"rebuilt"`
	Fingerprint string           `json:"fingerprint"`
	Statistics  graph.Statistics `json:"statistics"`
}

// SchemaGraphResponse is the GET /schema payload
type SchemaGraphResponse struct {
	Graph    *graph.Graph        `json:"graph"`
	Metadata SchemaGraphMetadata `json:"metadata"`
}

// RebuildResponse is the POST /schema/rebuild payload
type RebuildResponse struct {
	Graph   *graph.Graph `json:"graph"`
	Rebuilt bool         `json:"rebuilt"`
}

// DeleteCacheResponse reports whether an invalidation removed a cached row
type DeleteCacheResponse struct {
	Deleted bool `json:"deleted"`
}

// schemaID resolves the target schema, allowing a ?schema= override
func (h *GraphHandler) schemaID(r *http.Request) string {
	if s := r.URL.Query().Get("schema"); s != "" {
		return s
	}
	return h.schema
}

// GetSchema handles GET /api/knowledge-graph-v2/schema. A missing, stale, or
// corrupt cache rebuilds transparently and the metadata says so.
func (h *GraphHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	id := h.schemaID(r)

	g, rebuilt, err := h.graphs.GetOrRebuild(r.Context(), graph.KindSchema, id)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, SchemaGraphResponse{
		Graph: g,
		Metadata: SchemaGraphMetadata{
			Schema:      id,
			Rebuilt:     rebuilt,
			Fingerprint: g.SourceFingerprint,
			Statistics:  g.Statistics,
		},
	})
}

// RebuildSchema handles POST /api/knowledge-graph-v2/schema/rebuild
func (h *GraphHandler) RebuildSchema(w http.ResponseWriter, r *http.Request) {
	id := h.schemaID(r)

	g, err := h.graphs.ForceRebuild(r.Context(), graph.KindSchema, id)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.logger.Info("schema graph force-rebuilt", zap.String("schema", id))
	writeJSON(w, h.logger, http.StatusOK, RebuildResponse{Graph: g, Rebuilt: true})
}

// GetStatus handles GET /api/knowledge-graph-v2/status without touching
// the builders.
func (h *GraphHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.graphs.Status(r.Context(), graph.KindSchema, h.schemaID(r))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, status)
}

// DeleteCache handles DELETE /api/knowledge-graph-v2/cache. The next read
// rebuilds from sources.
func (h *GraphHandler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.graphs.Invalidate(r.Context(), graph.KindSchema, h.schemaID(r))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, DeleteCacheResponse{Deleted: deleted})
}

// Health handles GET /api/knowledge-graph-v2/health
func (h *GraphHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"ok": true})
}
