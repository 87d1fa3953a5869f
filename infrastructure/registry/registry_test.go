package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"datalens/infrastructure/di"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/extensions"
)

const dataProductsDescriptor = `{
  "id": "data_products",
  "name": "Data Products",
  "version": "1.2.0",
  "category": "feature",
  "eager_init": true,
  "routes": [{"path": "/data-products", "display_name": "Data Products", "order": 1}],
  "requires": ["repository.primary"]
}`

const aiAssistantDescriptor = `{
  "id": "ai_assistant",
  "name": "AI Assistant",
  "version": "0.9.1",
  "category": "hybrid",
  "routes": [{"path": "/ai-assistant", "display_name": "Assistant"}],
  "requires": ["repository.primary"],
  "optional": ["semantic.resolver"]
}`

func writeDescriptor(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newLoadedRegistry(t *testing.T, root string) (*Registry, *di.Container) {
	t.Helper()
	container := di.NewContainer(zap.NewNop())
	require.NoError(t, container.Bind("repository.primary", func(ctx context.Context, c *di.Container) (interface{}, error) {
		return "primary-repo", nil
	}, di.AsSingleton()))
	container.Seal()

	reg := New(root, container, extensions.NewHookManager(), zap.NewNop())
	require.NoError(t, reg.Load(context.Background()))
	return reg, container
}

func TestRegistry_LoadAndManifest(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "data_products.json", dataProductsDescriptor)
	writeDescriptor(t, root, "ai_assistant.json", aiAssistantDescriptor)

	reg, _ := newLoadedRegistry(t, root)

	manifest := reg.Manifest()
	require.Len(t, manifest, 2)
	assert.Equal(t, "ai_assistant", manifest[0].ID)
	assert.Equal(t, "data_products", manifest[1].ID)
	assert.Equal(t, []string{"repository.primary"}, manifest[1].RequiredCapabilities)
	assert.True(t, manifest[1].EagerInit)
	assert.Equal(t, 2, reg.ModulesLoaded())
	assert.NotEmpty(t, reg.CacheKey())

	// Eager module is mounted before any request, lazy is not
	assert.True(t, reg.Mounted("data_products"))
	assert.False(t, reg.Mounted("ai_assistant"))
}

func TestRegistry_NestedModuleJSONDiscovered(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "reports"), 0o755))
	writeDescriptor(t, filepath.Join(root, "reports"), "module.json", `{
	  "id": "reports",
	  "name": "Reports",
	  "version": "1.0.0",
	  "category": "feature",
	  "routes": [{"path": "/reports"}]
	}`)

	reg, _ := newLoadedRegistry(t, root)
	require.Len(t, reg.Manifest(), 1)
	assert.Equal(t, "reports", reg.Manifest()[0].ID)
}

func TestRegistry_DuplicateIDsFailStartup(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "a.json", dataProductsDescriptor)
	writeDescriptor(t, root, "b.json", dataProductsDescriptor)

	container := di.NewContainer(zap.NewNop())
	reg := New(root, container, nil, zap.NewNop())

	err := reg.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
	assert.Contains(t, err.Error(), "duplicate module id")
	assert.Contains(t, err.Error(), "data_products")
}

func TestRegistry_MissingRequiredCapabilityAborts(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "data_products.json", dataProductsDescriptor)

	container := di.NewContainer(zap.NewNop())
	container.Seal()
	reg := New(root, container, nil, zap.NewNop())

	err := reg.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsUnbound(err))
	assert.Contains(t, err.Error(), "data_products")
	assert.Contains(t, err.Error(), "repository.primary")
}

func TestRegistry_InvalidDescriptorNamesFile(t *testing.T) {
	root := t.TempDir()
	path := writeDescriptor(t, root, "broken.json", `{"id": "x", "name": "Broken"}`)

	reg := New(root, di.NewContainer(zap.NewNop()), nil, zap.NewNop())
	err := reg.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
	assert.Contains(t, err.Error(), path)
}

func TestRegistry_DisabledModuleRecordedNotActivated(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "legacy.json", `{
	  "id": "legacy_viewer",
	  "name": "Legacy Viewer",
	  "version": "0.1.0",
	  "category": "feature",
	  "enabled": false,
	  "eager_init": true,
	  "routes": [{"path": "/legacy-viewer"}],
	  "requires": ["capability.that.does.not.exist"]
	}`)

	container := di.NewContainer(zap.NewNop())
	container.Seal()
	reg := New(root, container, nil, zap.NewNop())

	// Disabled modules skip capability checks and eager init entirely
	require.NoError(t, reg.Load(context.Background()))

	desc, ok := reg.Get("legacy_viewer")
	require.True(t, ok)
	assert.False(t, desc.Enabled)
	assert.Empty(t, reg.Manifest())
	assert.False(t, reg.Mounted("legacy_viewer"))

	_, err := reg.Acquire(context.Background(), "legacy_viewer")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistry_LazyLifecycle(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "ai_assistant.json", aiAssistantDescriptor)

	reg, _ := newLoadedRegistry(t, root)
	ctx := context.Background()

	assert.False(t, reg.Mounted("ai_assistant"))

	inst, err := reg.Acquire(ctx, "ai_assistant")
	require.NoError(t, err)
	assert.True(t, reg.Mounted("ai_assistant"))

	repo, ok := inst.Capability("repository.primary")
	require.True(t, ok)
	assert.Equal(t, "primary-repo", repo)

	// Second entry while the first is still in flight
	_, err = reg.Acquire(ctx, "ai_assistant")
	require.NoError(t, err)

	reg.Release(ctx, "ai_assistant")
	assert.True(t, reg.Mounted("ai_assistant"))

	reg.Release(ctx, "ai_assistant")
	assert.False(t, reg.Mounted("ai_assistant"))
}

func TestRegistry_EagerModuleSurvivesRelease(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "data_products.json", dataProductsDescriptor)

	reg, _ := newLoadedRegistry(t, root)
	ctx := context.Background()

	require.True(t, reg.Mounted("data_products"))

	_, err := reg.Acquire(ctx, "data_products")
	require.NoError(t, err)
	reg.Release(ctx, "data_products")

	assert.True(t, reg.Mounted("data_products"))
}

func TestRegistry_OptionalStandIn(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "ai_assistant.json", aiAssistantDescriptor)

	container := di.NewContainer(zap.NewNop())
	require.NoError(t, container.Bind("repository.primary", func(ctx context.Context, c *di.Container) (interface{}, error) {
		return "primary-repo", nil
	}, di.AsSingleton()))
	container.Seal()

	reg := New(root, container, nil, zap.NewNop())
	reg.RegisterStandIn("semantic.resolver", func(ctx context.Context, c *di.Container) (interface{}, error) {
		return "noop-resolver", nil
	})
	require.NoError(t, reg.Load(context.Background()))

	inst, err := reg.Acquire(context.Background(), "ai_assistant")
	require.NoError(t, err)

	resolver, ok := inst.Capability("semantic.resolver")
	require.True(t, ok)
	assert.Equal(t, "noop-resolver", resolver)
	assert.Empty(t, inst.MissingOptional())
}

func TestRegistry_OptionalWithoutStandInRecordedMissing(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "ai_assistant.json", aiAssistantDescriptor)

	reg, _ := newLoadedRegistry(t, root)

	inst, err := reg.Acquire(context.Background(), "ai_assistant")
	require.NoError(t, err)

	_, ok := inst.Capability("semantic.resolver")
	assert.False(t, ok)
	assert.Equal(t, []string{"semantic.resolver"}, inst.MissingOptional())
}

func TestRegistry_RefreshIdempotentWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "data_products.json", dataProductsDescriptor)

	reg, _ := newLoadedRegistry(t, root)
	before := reg.CacheKey()

	manifest, changed, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, reg.CacheKey())
	require.Len(t, manifest, 1)
}

func TestRegistry_RefreshPicksUpChanges(t *testing.T) {
	root := t.TempDir()
	path := writeDescriptor(t, root, "data_products.json", dataProductsDescriptor)

	reg, _ := newLoadedRegistry(t, root)
	before := reg.CacheKey()

	// Nudge the mtime so the tuple changes even on coarse filesystems
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	manifest, changed, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, before, reg.CacheKey())
	require.Len(t, manifest, 1)
}

func TestRegistry_RefreshFailureKeepsServingOldIndex(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "data_products.json", dataProductsDescriptor)

	reg, _ := newLoadedRegistry(t, root)

	bad := writeDescriptor(t, root, "bad.json", `{"id": "nope"}`)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(bad, future, future))

	_, _, err := reg.Refresh(context.Background())
	require.Error(t, err)

	// Old index still answers
	require.Len(t, reg.Manifest(), 1)
	assert.Equal(t, "data_products", reg.Manifest()[0].ID)
}

func TestRegistry_ModuleForRoute(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "data_products.json", dataProductsDescriptor)
	writeDescriptor(t, root, "ai_assistant.json", aiAssistantDescriptor)

	reg, _ := newLoadedRegistry(t, root)

	id, ok := reg.ModuleForRoute("/data-products")
	require.True(t, ok)
	assert.Equal(t, "data_products", id)

	id, ok = reg.ModuleForRoute("/ai-assistant/chat")
	require.True(t, ok)
	assert.Equal(t, "ai_assistant", id)

	_, ok = reg.ModuleForRoute("/ai-assistant-evil")
	assert.False(t, ok)

	_, ok = reg.ModuleForRoute("/unknown")
	assert.False(t, ok)
}
