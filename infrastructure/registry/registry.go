// Package registry discovers, validates, and indexes module descriptors,
// and drives the eager/lazy module lifecycle against the capability
// container.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"datalens/domain/module"
	"datalens/infrastructure/di"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/extensions"
)

// Registry owns the descriptor index. Loaded once at startup; Refresh
// rebuilds the index from disk on demand. Module code changes still require
// a restart, refresh only revalidates and reloads descriptors.
type Registry struct {
	root      string
	container *di.Container
	hooks     *extensions.HookManager
	logger    *zap.Logger

	mu          sync.RWMutex
	descriptors map[string]*module.Descriptor
	order       []string
	cacheKey    string

	instMu    sync.Mutex
	instances map[string]*Instance
	standins  map[string]di.Factory
}

// New creates an unloaded registry over the given module root
func New(root string, container *di.Container, hooks *extensions.HookManager, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		root:        root,
		container:   container,
		hooks:       hooks,
		logger:      logger,
		descriptors: make(map[string]*module.Descriptor),
		instances:   make(map[string]*Instance),
		standins:    make(map[string]di.Factory),
	}
}

// RegisterStandIn installs a no-op provider used when a module lists an
// optional capability that has no container binding. Must be called before
// Load.
func (r *Registry) RegisterStandIn(capability string, factory di.Factory) {
	r.instMu.Lock()
	defer r.instMu.Unlock()
	r.standins[capability] = factory
}

// Load scans the module root, validates every descriptor, verifies required
// capabilities resolve, and constructs eager modules. Any failure aborts
// startup.
func (r *Registry) Load(ctx context.Context) error {
	descriptors, cacheKey, err := r.scan()
	if err != nil {
		return err
	}

	for _, id := range sortedIDs(descriptors) {
		desc := descriptors[id]
		if !desc.Enabled {
			r.logger.Info("module disabled, not activated", zap.String("module", id))
			continue
		}
		if err := r.checkCapabilities(ctx, desc); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.descriptors = descriptors
	r.order = sortedIDs(descriptors)
	r.cacheKey = cacheKey
	r.mu.Unlock()

	for _, id := range r.order {
		desc := descriptors[id]
		if !desc.Enabled || !desc.EagerInit {
			continue
		}
		if _, err := r.Acquire(ctx, id); err != nil {
			return apperrors.Wrapf(err, "eager module %s failed to start", id)
		}
	}

	r.logger.Info("module registry loaded",
		zap.Int("modules", len(descriptors)),
		zap.String("cache_key", cacheKey))
	return nil
}

// Refresh revalidates descriptors on disk and reloads the index. When the
// file-mtime tuple is unchanged the current snapshot is returned untouched.
// A failed refresh leaves the previous index serving.
func (r *Registry) Refresh(ctx context.Context) ([]module.ManifestEntry, bool, error) {
	currentKey := r.CacheKey()

	newKey, err := r.computeCacheKey()
	if err != nil {
		return nil, false, err
	}
	if newKey == currentKey {
		return r.Manifest(), false, nil
	}

	descriptors, cacheKey, err := r.scan()
	if err != nil {
		return nil, false, err
	}
	for _, id := range sortedIDs(descriptors) {
		desc := descriptors[id]
		if !desc.Enabled {
			continue
		}
		if err := r.checkCapabilityBindings(desc); err != nil {
			return nil, false, err
		}
	}

	r.mu.Lock()
	r.descriptors = descriptors
	r.order = sortedIDs(descriptors)
	r.cacheKey = cacheKey
	r.mu.Unlock()

	if r.hooks != nil {
		r.hooks.ExecuteAsync(ctx, extensions.HookRegistryRefresh, extensions.ModuleEvent{CacheKey: cacheKey})
	}
	r.logger.Info("module registry refreshed", zap.String("cache_key", cacheKey))
	return r.Manifest(), true, nil
}

// Get returns the descriptor for a module id
func (r *Registry) Get(id string) (*module.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[id]
	return desc, ok
}

// Manifest returns the frontend-registry snapshot: enabled modules only,
// sorted by id, without private descriptor fields.
func (r *Registry) Manifest() []module.ManifestEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]module.ManifestEntry, 0, len(r.order))
	for _, id := range r.order {
		desc := r.descriptors[id]
		if !desc.Enabled {
			continue
		}
		entries = append(entries, module.ManifestEntryFor(desc))
	}
	return entries
}

// ModulesLoaded counts enabled modules in the index
func (r *Registry) ModulesLoaded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, desc := range r.descriptors {
		if desc.Enabled {
			n++
		}
	}
	return n
}

// CacheKey returns the file-mtime tuple fingerprint of the loaded index
func (r *Registry) CacheKey() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cacheKey
}

// ModuleForRoute maps a request path to the owning module id by route
// prefix. Matches respect segment boundaries, so /ai-assistant-evil does
// not match the ai_assistant module.
func (r *Registry) ModuleForRoute(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		desc := r.descriptors[id]
		if !desc.Enabled {
			continue
		}
		prefix := module.RoutePrefix(desc.ID)
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return id, true
		}
	}
	return "", false
}

// scan reads and validates every descriptor under the module root
func (r *Registry) scan() (map[string]*module.Descriptor, string, error) {
	files, err := r.descriptorFiles()
	if err != nil {
		return nil, "", err
	}

	descriptors := make(map[string]*module.Descriptor, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", apperrors.NewConfigError(fmt.Sprintf("reading module descriptor %s: %v", path, err))
		}
		desc, err := module.ParseDescriptor(data)
		if err != nil {
			return nil, "", apperrors.Wrapf(err, "module descriptor %s is invalid", path)
		}
		desc.SourcePath = path

		if existing, dup := descriptors[desc.ID]; dup {
			return nil, "", apperrors.NewConfigError(fmt.Sprintf(
				"duplicate module id %q declared by %s and %s", desc.ID, existing.SourcePath, path))
		}
		descriptors[desc.ID] = desc
	}

	key, err := r.computeCacheKey()
	if err != nil {
		return nil, "", err
	}
	return descriptors, key, nil
}

// descriptorFiles lists descriptor paths: <root>/*.json plus
// <root>/<dir>/module.json, sorted for determinism.
func (r *Registry) descriptorFiles() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("module root %s is not readable: %v", r.root, err))
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			nested := filepath.Join(r.root, entry.Name(), "module.json")
			if _, err := os.Stat(nested); err == nil {
				files = append(files, nested)
			}
			continue
		}
		if strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, filepath.Join(r.root, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// computeCacheKey hashes the (path, mtime) tuple over all descriptor files
func (r *Registry) computeCacheKey() (string, error) {
	files, err := r.descriptorFiles()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return "", apperrors.NewConfigError(fmt.Sprintf("stat %s: %v", path, err))
		}
		h.Write([]byte(path))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// checkCapabilities resolves every required capability so broken factories
// surface at startup, and verifies optional capabilities have either a
// binding or a registered stand-in.
func (r *Registry) checkCapabilities(ctx context.Context, desc *module.Descriptor) error {
	required := make([]string, 0, len(desc.Requires)+1)
	required = append(required, desc.Requires...)
	if desc.Backend != nil && desc.Backend.Blueprint != "" {
		required = append(required, desc.Backend.Blueprint)
	}

	for _, capability := range required {
		if _, err := r.container.Resolve(ctx, capability); err != nil {
			return apperrors.Wrapf(err,
				"module %s requires capability %s which cannot be resolved", desc.ID, capability)
		}
	}

	for _, capability := range desc.Optional {
		if r.container.Bound(capability) {
			continue
		}
		r.instMu.Lock()
		_, hasStandIn := r.standins[capability]
		r.instMu.Unlock()
		if !hasStandIn {
			r.logger.Warn("optional capability has no binding and no stand-in",
				zap.String("module", desc.ID),
				zap.String("capability", capability))
		}
	}
	return nil
}

// checkCapabilityBindings is the refresh-time variant: presence only, no
// construction.
func (r *Registry) checkCapabilityBindings(desc *module.Descriptor) error {
	required := make([]string, 0, len(desc.Requires)+1)
	required = append(required, desc.Requires...)
	if desc.Backend != nil && desc.Backend.Blueprint != "" {
		required = append(required, desc.Backend.Blueprint)
	}

	for _, capability := range required {
		if !r.container.Bound(capability) {
			return apperrors.Wrap(apperrors.NewUnboundError(capability),
				fmt.Sprintf("module %s requires capability %s", desc.ID, capability))
		}
	}
	return nil
}

func sortedIDs(descriptors map[string]*module.Descriptor) []string {
	ids := make([]string, 0, len(descriptors))
	for id := range descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
