package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"datalens/domain/module"
	apperrors "datalens/pkg/errors"
)

// ModuleIndex is the slice of the module registry the HTTP surface consumes
type ModuleIndex interface {
	Manifest() []module.ManifestEntry
	Get(id string) (*module.Descriptor, bool)
	Refresh(ctx context.Context) ([]module.ManifestEntry, bool, error)
	ModulesLoaded() int
	CacheKey() string
}

// RegistryHandler serves the frontend-registry endpoints
type RegistryHandler struct {
	index  ModuleIndex
	errors *apperrors.ErrorHandler
	logger *zap.Logger
}

// NewRegistryHandler creates a new registry handler
func NewRegistryHandler(index ModuleIndex, errors *apperrors.ErrorHandler, logger *zap.Logger) *RegistryHandler {
	return &RegistryHandler{
		index:  index,
		errors: errors,
		logger: logger,
	}
}

// ManifestResponse is the navigation snapshot handed to the frontend shell
type ManifestResponse struct {
	Modules  []module.ManifestEntry `json:"modules"`
	CacheKey string                 `json:"cache_key"`
}

// RefreshResponse reports the manifest after a revalidation pass
type RefreshResponse struct {
	Modules  []module.ManifestEntry `json:"modules"`
	Changed  bool                   `json:"changed"`
	CacheKey string                 `json:"cache_key"`
}

// GetManifest handles GET /api/modules/frontend-registry
func (h *RegistryHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, ManifestResponse{
		Modules:  h.index.Manifest(),
		CacheKey: h.index.CacheKey(),
	})
}

// GetModule handles GET /api/modules/frontend-registry/{moduleID}.
// Disabled modules are absent from the public manifest, so they 404 here
// exactly like unknown ids.
func (h *RegistryHandler) GetModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "moduleID")

	desc, ok := h.index.Get(id)
	if !ok || !desc.Enabled {
		h.errors.Handle(w, r, apperrors.NewNotFoundError("module "+id))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, module.ManifestEntryFor(desc))
}

// Refresh handles POST /api/modules/frontend-registry/refresh
func (h *RegistryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	entries, changed, err := h.index.Refresh(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.logger.Info("registry refresh served",
		zap.Bool("changed", changed),
		zap.Int("modules", len(entries)))
	writeJSON(w, h.logger, http.StatusOK, RefreshResponse{
		Modules:  entries,
		Changed:  changed,
		CacheKey: h.index.CacheKey(),
	})
}

// Health handles GET /api/modules/frontend-registry/health
func (h *RegistryHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"modules_loaded": h.index.ModulesLoaded(),
	})
}
