package graphcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"datalens/application/ports"
	"datalens/domain/graph"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/extensions"
)

// memoryStore keeps serialized payloads like the real store, so corruption
// and round-trip behavior match production.
type memoryStore struct {
	mu           sync.Mutex
	payloads     map[string][]byte
	fingerprints map[string]string
	failSave     bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		payloads:     make(map[string][]byte),
		fingerprints: make(map[string]string),
	}
}

func storeKey(kind graph.Kind, id string) string {
	return string(kind) + "/" + id
}

func (s *memoryStore) Load(_ context.Context, kind graph.Kind, id string) (*graph.Graph, error) {
	s.mu.Lock()
	payload, ok := s.payloads[storeKey(kind, id)]
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("graph %s/%s", kind, id))
	}
	return graph.Unmarshal(payload)
}

func (s *memoryStore) Save(_ context.Context, g *graph.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	payload, err := graph.Marshal(g)
	if err != nil {
		return err
	}
	s.payloads[storeKey(g.Kind, g.ID)] = payload
	s.fingerprints[storeKey(g.Kind, g.ID)] = g.SourceFingerprint
	return nil
}

func (s *memoryStore) Delete(_ context.Context, kind graph.Kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.payloads[storeKey(kind, id)]
	delete(s.payloads, storeKey(kind, id))
	delete(s.fingerprints, storeKey(kind, id))
	return ok, nil
}

func (s *memoryStore) Meta(_ context.Context, kind graph.Kind, id string) (*ports.GraphStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fingerprint, ok := s.fingerprints[storeKey(kind, id)]
	if !ok {
		return &ports.GraphStatus{Present: false}, nil
	}
	return &ports.GraphStatus{Present: true, Fingerprint: fingerprint, BuiltAt: time.Now()}, nil
}

func (s *memoryStore) corrupt(kind graph.Kind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[storeKey(kind, id)] = []byte(`{"nodes": [`)
}

// countingBuilder builds two-node graphs and counts invocations. The
// fingerprint field simulates source document changes; block, when set,
// holds builds until released.
type countingBuilder struct {
	kind        graph.Kind
	fingerprint atomic.Value
	builds      atomic.Int32
	block       chan struct{}
}

func newCountingBuilder(kind graph.Kind, fingerprint string) *countingBuilder {
	b := &countingBuilder{kind: kind}
	b.fingerprint.Store(fingerprint)
	return b
}

func (b *countingBuilder) Build(_ context.Context, id string) (*graph.Graph, error) {
	b.builds.Add(1)
	if b.block != nil {
		<-b.block
	}
	g := graph.New(id, b.kind)
	if err := g.AddNode(graph.Node{ID: "product:" + id, Label: id, Type: graph.NodeTypeProduct}); err != nil {
		return nil, err
	}
	g.RecomputeStatistics()
	g.SourceFingerprint = b.fingerprint.Load().(string)
	return g, nil
}

func (b *countingBuilder) Fingerprint(_ context.Context, _ string) (string, error) {
	return b.fingerprint.Load().(string), nil
}

func newTestEngine(store ports.GraphStore, builder Builder) *Engine {
	return NewEngine(store,
		map[graph.Kind]Builder{graph.KindSchema: builder},
		extensions.NewHookManager(), nil, zap.NewNop())
}

func TestEngine_MissBuildsThenHits(t *testing.T) {
	store := newMemoryStore()
	builder := newCountingBuilder(graph.KindSchema, "v1")
	engine := newTestEngine(store, builder)
	ctx := context.Background()

	g, rebuilt, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, "v1", g.SourceFingerprint)
	assert.EqualValues(t, 1, builder.builds.Load())

	g, rebuilt, err = engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.False(t, rebuilt)
	assert.Equal(t, "v1", g.SourceFingerprint)
	assert.EqualValues(t, 1, builder.builds.Load())
}

func TestEngine_StaleFingerprintRebuilds(t *testing.T) {
	store := newMemoryStore()
	builder := newCountingBuilder(graph.KindSchema, "v1")
	engine := newTestEngine(store, builder)
	ctx := context.Background()

	_, _, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)

	// The catalog changed underneath the cache
	builder.fingerprint.Store("v2")

	g, rebuilt, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, "v2", g.SourceFingerprint)
	assert.EqualValues(t, 2, builder.builds.Load())
}

func TestEngine_CorruptCacheSelfHeals(t *testing.T) {
	store := newMemoryStore()
	builder := newCountingBuilder(graph.KindSchema, "v1")
	engine := newTestEngine(store, builder)
	ctx := context.Background()

	_, _, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	store.corrupt(graph.KindSchema, "default")

	g, rebuilt, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.True(t, rebuilt)
	require.NotNil(t, g)
	assert.EqualValues(t, 2, builder.builds.Load())

	// The healed row reads back cleanly
	_, rebuilt, err = engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.False(t, rebuilt)
}

func TestEngine_ConcurrentRequestsShareOneBuild(t *testing.T) {
	store := newMemoryStore()
	builder := newCountingBuilder(graph.KindSchema, "v1")
	builder.block = make(chan struct{})
	engine := newTestEngine(store, builder)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]bool, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, rebuilt, err := engine.GetOrRebuild(context.Background(), graph.KindSchema, "default")
			results[i] = rebuilt
			errs[i] = err
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(builder.block)
	wg.Wait()

	assert.EqualValues(t, 1, builder.builds.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i], "caller %d must observe the rebuild", i)
	}
}

func TestEngine_ForceRebuildIgnoresFreshness(t *testing.T) {
	store := newMemoryStore()
	builder := newCountingBuilder(graph.KindSchema, "v1")
	engine := newTestEngine(store, builder)
	ctx := context.Background()

	_, _, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)

	g, err := engine.ForceRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.EqualValues(t, 2, builder.builds.Load())

	// The swapped row serves subsequent reads without another build
	_, rebuilt, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.False(t, rebuilt)
	assert.EqualValues(t, 2, builder.builds.Load())
}

func TestEngine_InvalidateReportsExistence(t *testing.T) {
	store := newMemoryStore()
	builder := newCountingBuilder(graph.KindSchema, "v1")
	engine := newTestEngine(store, builder)
	ctx := context.Background()

	existed, err := engine.Invalidate(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.False(t, existed)

	_, _, err = engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)

	existed, err = engine.Invalidate(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.True(t, existed)

	status, err := engine.Status(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.False(t, status.Present)
}

func TestEngine_PersistFailureStillServesGraph(t *testing.T) {
	store := newMemoryStore()
	store.failSave = true
	builder := newCountingBuilder(graph.KindSchema, "v1")
	engine := newTestEngine(store, builder)
	ctx := context.Background()

	g, rebuilt, err := engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.True(t, rebuilt)
	require.NotNil(t, g)

	// Nothing was persisted, so the next read rebuilds again
	_, rebuilt, err = engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.EqualValues(t, 2, builder.builds.Load())
}

func TestEngine_UnknownKind(t *testing.T) {
	engine := newTestEngine(newMemoryStore(), newCountingBuilder(graph.KindSchema, "v1"))

	_, _, err := engine.GetOrRebuild(context.Background(), graph.KindData, "Invoice")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestEngine_StatusReportsFingerprint(t *testing.T) {
	store := newMemoryStore()
	builder := newCountingBuilder(graph.KindSchema, "v1")
	engine := newTestEngine(store, builder)
	ctx := context.Background()

	status, err := engine.Status(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.False(t, status.Present)

	_, _, err = engine.GetOrRebuild(ctx, graph.KindSchema, "default")
	require.NoError(t, err)

	status, err = engine.Status(ctx, graph.KindSchema, "default")
	require.NoError(t, err)
	assert.True(t, status.Present)
	assert.Equal(t, "v1", status.Fingerprint)
	assert.EqualValues(t, 1, builder.builds.Load())
}
