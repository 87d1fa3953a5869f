// Package extensions lets modules react to platform events without linking
// against each other. Hooks are the only sanctioned side channel: the
// registry and the graph cache emit events here, and modules subscribe
// through the capability they resolve from the container.
package extensions

import (
	"context"
	"fmt"
	"sync"
)

// HookPoint represents a point in the platform where hooks can be registered
type HookPoint string

const (
	// Module lifecycle hooks
	HookModuleMounted   HookPoint = "module_mounted"
	HookModuleUnmounted HookPoint = "module_unmounted"
	HookRegistryRefresh HookPoint = "registry_refreshed"

	// Graph cache hooks
	HookCacheHit          HookPoint = "cache_hit"
	HookCacheMiss         HookPoint = "cache_miss"
	HookCacheRebuilt      HookPoint = "cache_rebuilt"
	HookCacheInvalidation HookPoint = "cache_invalidation"

	// Conversation hooks
	HookTurnStarted   HookPoint = "turn_started"
	HookTurnCompleted HookPoint = "turn_completed"
	HookToolExecuted  HookPoint = "tool_executed"
)

// Hook represents a function that can be executed at a hook point
type Hook func(ctx context.Context, data interface{}) error

// ModuleEvent is the payload for module lifecycle and registry hooks
type ModuleEvent struct {
	ModuleID string `json:"module_id,omitempty"`
	Eager    bool   `json:"eager,omitempty"`
	CacheKey string `json:"cache_key,omitempty"`
}

// CacheEvent is the payload for graph cache hooks
type CacheEvent struct {
	Kind        string `json:"kind"`
	GraphID     string `json:"graph_id"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// TurnEvent is the payload for conversation hooks
type TurnEvent struct {
	SessionID string `json:"session_id"`
	Tool      string `json:"tool,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
}

// HookManager manages hooks for extension points
type HookManager struct {
	hooks map[HookPoint][]Hook
	mu    sync.RWMutex
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		hooks: make(map[HookPoint][]Hook),
	}
}

// Register registers a hook for a specific hook point
func (m *HookManager) Register(point HookPoint, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[point] = append(m.hooks[point], hook)
}

// Execute executes all hooks for a specific hook point
func (m *HookManager) Execute(ctx context.Context, point HookPoint, data interface{}) error {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for i, hook := range hooks {
		if err := hook(ctx, data); err != nil {
			return fmt.Errorf("hook %d at %s failed: %w", i, point, err)
		}
	}

	return nil
}

// ExecuteAsync executes hooks asynchronously, dropping errors
func (m *HookManager) ExecuteAsync(ctx context.Context, point HookPoint, data interface{}) {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for _, hook := range hooks {
		go func(h Hook) {
			_ = h(ctx, data)
		}(hook)
	}
}

// Count returns the number of hooks registered at a point
func (m *HookManager) Count(point HookPoint) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[point])
}

// Clear removes all hooks for a specific hook point
func (m *HookManager) Clear(point HookPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.hooks, point)
}

// ClearAll removes all registered hooks
func (m *HookManager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = make(map[HookPoint][]Hook)
}
