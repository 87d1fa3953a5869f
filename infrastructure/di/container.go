// Package di implements the runtime capability container. Platform wiring
// and module descriptors bind named factories; consumers resolve them lazily
// by capability name. The container is sealed once startup wiring completes,
// after which the binding set is immutable.
package di

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	apperrors "datalens/pkg/errors"
)

// Factory constructs a capability instance. Factories may resolve their own
// dependencies through the container they receive.
type Factory func(ctx context.Context, c *Container) (interface{}, error)

type binding struct {
	name      string
	factory   Factory
	singleton bool
	eager     bool
	seq       int
}

// BindOption configures a binding
type BindOption func(*binding)

// AsSingleton caches the first constructed instance and reuses it for every
// subsequent resolve
func AsSingleton() BindOption {
	return func(b *binding) { b.singleton = true }
}

// WithEagerInit marks the binding for construction during InitEager, in bind
// order. Eager implies singleton.
func WithEagerInit() BindOption {
	return func(b *binding) {
		b.eager = true
		b.singleton = true
	}
}

// Container is the runtime capability registry
type Container struct {
	mu       sync.RWMutex
	bindings map[string]*binding
	sealed   bool
	nextSeq  int

	instances sync.Map // name -> interface{}

	buildMu sync.Mutex
	builds  map[string]*sync.Mutex // per-name construction locks

	closeMu sync.Mutex
	closers []namedCloser

	logger *zap.Logger
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// NewContainer creates an empty, unsealed container
func NewContainer(logger *zap.Logger) *Container {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		bindings: make(map[string]*binding),
		builds:   make(map[string]*sync.Mutex),
		logger:   logger,
	}
}

// Bind registers a factory under a capability name. Binding fails once the
// container is sealed, and rebinding an existing name fails so wiring
// conflicts surface at startup instead of shadowing silently.
func (c *Container) Bind(name string, factory Factory, opts ...BindOption) error {
	if name == "" {
		return apperrors.NewConfigError("capability name must not be empty")
	}
	if factory == nil {
		return apperrors.NewConfigError("factory must not be nil for capability " + name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sealed {
		return apperrors.NewConfigError("container is sealed, cannot bind " + name)
	}
	if _, exists := c.bindings[name]; exists {
		return apperrors.NewConflictError("capability already bound: " + name)
	}

	b := &binding{name: name, factory: factory, seq: c.nextSeq}
	c.nextSeq++
	for _, opt := range opts {
		opt(b)
	}
	c.bindings[name] = b

	c.logger.Debug("capability bound",
		zap.String("capability", name),
		zap.Bool("singleton", b.singleton),
		zap.Bool("eager", b.eager))

	return nil
}

// Seal freezes the binding set. Resolution remains available.
func (c *Container) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

// Sealed reports whether the binding set is frozen
func (c *Container) Sealed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sealed
}

// Bound reports whether a capability name has a binding
func (c *Container) Bound(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.bindings[name]
	return ok
}

// Names returns all bound capability names, sorted
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.bindings))
	for name := range c.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the instance bound under name, constructing it on first
// use. Concurrent resolves of one singleton collapse onto a single factory
// invocation; losers wait and receive the winner's instance. A factory that
// directly or transitively resolves its own name fails with ErrCycle.
func (c *Container) Resolve(ctx context.Context, name string) (interface{}, error) {
	c.mu.RLock()
	b, ok := c.bindings[name]
	c.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewUnboundError(name)
	}

	path := resolutionPath(ctx)
	for _, visited := range path {
		if visited == name {
			return nil, apperrors.NewCycleError(append(append([]string{}, path...), name))
		}
	}
	next := make([]string, len(path)+1)
	copy(next, path)
	next[len(path)] = name
	ctx = withResolutionPath(ctx, next)

	if !b.singleton {
		return c.construct(ctx, b)
	}

	if instance, ok := c.instances.Load(name); ok {
		return instance, nil
	}

	// First writer wins: the goroutine holding the name lock constructs,
	// everyone else blocks here and loads the cached instance after.
	lock := c.buildLock(name)
	lock.Lock()
	defer lock.Unlock()

	if instance, ok := c.instances.Load(name); ok {
		return instance, nil
	}

	instance, err := c.construct(ctx, b)
	if err != nil {
		return nil, err
	}
	c.instances.Store(name, instance)
	return instance, nil
}

// MustResolve resolves or panics. For wiring paths where absence is a
// programming error, not a runtime condition.
func (c *Container) MustResolve(ctx context.Context, name string) interface{} {
	instance, err := c.Resolve(ctx, name)
	if err != nil {
		panic(err)
	}
	return instance
}

// InitEager constructs every eager binding in bind order. Called once by
// bootstrap after Seal; the first failure aborts startup.
func (c *Container) InitEager(ctx context.Context) error {
	c.mu.RLock()
	eager := make([]*binding, 0)
	for _, b := range c.bindings {
		if b.eager {
			eager = append(eager, b)
		}
	}
	c.mu.RUnlock()

	sort.Slice(eager, func(i, j int) bool { return eager[i].seq < eager[j].seq })

	for _, b := range eager {
		if _, err := c.Resolve(ctx, b.name); err != nil {
			return apperrors.Wrapf(err, "eager init failed for capability %s", b.name)
		}
		c.logger.Info("capability initialized", zap.String("capability", b.name))
	}
	return nil
}

// Close shuts down constructed singletons in reverse creation order.
// Failures are collected, not short-circuited, so every closer runs.
func (c *Container) Close(ctx context.Context) error {
	c.closeMu.Lock()
	closers := c.closers
	c.closers = nil
	c.closeMu.Unlock()

	var result *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			result = multierror.Append(result, ctx.Err())
			return result.ErrorOrNil()
		default:
		}
		if err := closers[i].closer.Close(); err != nil {
			c.logger.Warn("capability close failed",
				zap.String("capability", closers[i].name),
				zap.Error(err))
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Container) construct(ctx context.Context, b *binding) (interface{}, error) {
	instance, err := b.factory(ctx, c)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, apperrors.NewInternalError("factory for capability " + b.name + " returned nil")
	}
	if closer, ok := instance.(io.Closer); ok && b.singleton {
		c.closeMu.Lock()
		c.closers = append(c.closers, namedCloser{name: b.name, closer: closer})
		c.closeMu.Unlock()
	}
	return instance, nil
}

func (c *Container) buildLock(name string) *sync.Mutex {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	lock, ok := c.builds[name]
	if !ok {
		lock = &sync.Mutex{}
		c.builds[name] = lock
	}
	return lock
}

type pathKey struct{}

func resolutionPath(ctx context.Context) []string {
	if path, ok := ctx.Value(pathKey{}).([]string); ok {
		return path
	}
	return nil
}

func withResolutionPath(ctx context.Context, path []string) context.Context {
	return context.WithValue(ctx, pathKey{}, path)
}

// ResolveAs resolves a capability and asserts its type
func ResolveAs[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T
	instance, err := c.Resolve(ctx, name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, apperrors.NewInternalError("capability " + name + " has unexpected type")
	}
	return typed, nil
}
