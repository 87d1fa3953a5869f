// Package graphcache implements the fingerprint-checked graph cache.
// Cached graphs live in a GraphStore; builders reconstruct them from their
// sources when the cache is missing, stale, or corrupt. Concurrent rebuilds
// of one key collapse into a single build.
package graphcache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"datalens/application/ports"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/extensions"
	"datalens/pkg/observability"
)

// Builder reconstructs graphs of one kind from their source documents
type Builder interface {
	// Build assembles a fresh graph for the id with its source fingerprint set
	Build(ctx context.Context, id string) (*graph.Graph, error)

	// Fingerprint hashes the current source documents without building.
	// A cached graph whose fingerprint differs is stale.
	Fingerprint(ctx context.Context, id string) (string, error)
}

// Engine implements ports.GraphProvider over a store and per-kind builders
type Engine struct {
	store    ports.GraphStore
	builders map[graph.Kind]Builder
	group    singleflight.Group
	hooks    *extensions.HookManager
	metrics  *observability.Collector
	logger   *zap.Logger
}

// NewEngine creates a cache engine. Builders are fixed at construction.
func NewEngine(store ports.GraphStore, builders map[graph.Kind]Builder, hooks *extensions.HookManager, metrics *observability.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		builders: builders,
		hooks:    hooks,
		metrics:  metrics,
		logger:   logger,
	}
}

type cacheOutcome struct {
	graph   *graph.Graph
	rebuilt bool
}

// GetOrRebuild returns a coherent graph for the key. A valid cached graph is
// served as-is; a missing, stale, or corrupt cache triggers one rebuild no
// matter how many callers arrive concurrently, and every caller of that
// round observes rebuilt=true.
func (e *Engine) GetOrRebuild(ctx context.Context, kind graph.Kind, id string) (*graph.Graph, bool, error) {
	builder, err := e.builder(kind)
	if err != nil {
		return nil, false, err
	}

	key := string(kind) + "/" + id
	value, err, _ := e.group.Do(key, func() (interface{}, error) {
		outcome, err := e.getOrRebuild(ctx, builder, kind, id)
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})
	if err != nil {
		return nil, false, err
	}

	outcome := value.(cacheOutcome)
	return outcome.graph, outcome.rebuilt, nil
}

func (e *Engine) getOrRebuild(ctx context.Context, builder Builder, kind graph.Kind, id string) (cacheOutcome, error) {
	cached, err := e.store.Load(ctx, kind, id)
	switch {
	case err == nil:
		current, err := builder.Fingerprint(ctx, id)
		if err != nil {
			return cacheOutcome{}, err
		}
		if cached.SourceFingerprint == current {
			e.observeHit(ctx, kind, id, current)
			return cacheOutcome{graph: cached}, nil
		}
		e.logger.Info("cached graph is stale, rebuilding",
			zap.String("kind", string(kind)),
			zap.String("id", id))
		return e.rebuild(ctx, builder, kind, id, "stale")

	case apperrors.IsNotFound(err):
		return e.rebuild(ctx, builder, kind, id, "miss")

	case apperrors.IsCacheCorrupt(err):
		// Self-heal: a damaged row is indistinguishable from a miss for
		// callers, it only costs a rebuild.
		e.logger.Warn("cached graph is corrupt, rebuilding",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.Error(err))
		return e.rebuild(ctx, builder, kind, id, "corrupt")

	default:
		return cacheOutcome{}, err
	}
}

// ForceRebuild bypasses the fingerprint check and always builds. The store
// upsert swaps the row atomically, so readers serve the previous graph until
// the new one is committed.
func (e *Engine) ForceRebuild(ctx context.Context, kind graph.Kind, id string) (*graph.Graph, error) {
	builder, err := e.builder(kind)
	if err != nil {
		return nil, err
	}

	key := "force/" + string(kind) + "/" + id
	value, err, _ := e.group.Do(key, func() (interface{}, error) {
		outcome, err := e.rebuild(ctx, builder, kind, id, "forced")
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(cacheOutcome).graph, nil
}

// Invalidate drops the persisted row, reporting whether one existed. The
// next read rebuilds.
func (e *Engine) Invalidate(ctx context.Context, kind graph.Kind, id string) (bool, error) {
	existed, err := e.store.Delete(ctx, kind, id)
	if err != nil {
		return false, err
	}
	if existed && e.hooks != nil {
		e.hooks.ExecuteAsync(ctx, extensions.HookCacheInvalidation, extensions.CacheEvent{
			Kind:    string(kind),
			GraphID: id,
		})
	}
	return existed, nil
}

// Status reports cache state without triggering a rebuild
func (e *Engine) Status(ctx context.Context, kind graph.Kind, id string) (*ports.GraphStatus, error) {
	if _, err := e.builder(kind); err != nil {
		return nil, err
	}
	return e.store.Meta(ctx, kind, id)
}

func (e *Engine) builder(kind graph.Kind) (Builder, error) {
	builder, ok := e.builders[kind]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("no builder registered for graph kind %q", kind))
	}
	return builder, nil
}

func (e *Engine) rebuild(ctx context.Context, builder Builder, kind graph.Kind, id, trigger string) (cacheOutcome, error) {
	built, err := builder.Build(ctx, id)
	if err != nil {
		return cacheOutcome{}, apperrors.Wrapf(err, "building %s graph %s", kind, id)
	}
	if err := built.Validate(); err != nil {
		return cacheOutcome{}, apperrors.Wrapf(err, "built %s graph %s is invalid", kind, id)
	}

	// A failed persist must not withhold a graph we already hold in memory;
	// the next read simply rebuilds again.
	if err := e.store.Save(ctx, built); err != nil {
		e.logger.Warn("persisting rebuilt graph failed",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.Error(err))
	}

	if e.metrics != nil {
		e.metrics.CacheMisses.WithLabelValues(string(kind)).Inc()
		e.metrics.CacheRebuilds.WithLabelValues(string(kind), trigger).Inc()
	}
	if e.hooks != nil {
		e.hooks.ExecuteAsync(ctx, extensions.HookCacheMiss, extensions.CacheEvent{
			Kind:    string(kind),
			GraphID: id,
		})
		e.hooks.ExecuteAsync(ctx, extensions.HookCacheRebuilt, extensions.CacheEvent{
			Kind:        string(kind),
			GraphID:     id,
			Fingerprint: built.SourceFingerprint,
		})
	}
	return cacheOutcome{graph: built, rebuilt: true}, nil
}

func (e *Engine) observeHit(ctx context.Context, kind graph.Kind, id, fingerprint string) {
	if e.metrics != nil {
		e.metrics.CacheHits.WithLabelValues(string(kind)).Inc()
	}
	if e.hooks != nil {
		e.hooks.ExecuteAsync(ctx, extensions.HookCacheHit, extensions.CacheEvent{
			Kind:        string(kind),
			GraphID:     id,
			Fingerprint: fingerprint,
		})
	}
}
