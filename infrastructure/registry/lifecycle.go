package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"datalens/domain/module"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/extensions"
)

// Instance is a live module: its descriptor plus the capabilities resolved
// for it. Lazy instances are reference-counted by in-flight requests and
// torn down when the last one leaves; eager instances hold a permanent
// reference for the life of the process.
type Instance struct {
	Descriptor *module.Descriptor
	StartedAt  time.Time

	refs         int
	capabilities map[string]interface{}
	missing      []string
}

// Capability returns a resolved capability by name. Only capabilities the
// descriptor declared are visible; anything else reports false, which keeps
// cross-module access funnelled through the container.
func (i *Instance) Capability(name string) (interface{}, bool) {
	v, ok := i.capabilities[name]
	return v, ok
}

// MissingOptional lists declared optional capabilities that had neither a
// binding nor a stand-in
func (i *Instance) MissingOptional() []string {
	out := make([]string, len(i.missing))
	copy(out, i.missing)
	return out
}

// Acquire enters a module: returns the live instance, constructing it on
// first entry. Every Acquire must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, id string) (*Instance, error) {
	desc, ok := r.Get(id)
	if !ok || !desc.Enabled {
		return nil, apperrors.NewNotFoundError("module " + id)
	}

	r.instMu.Lock()
	if inst, live := r.instances[id]; live {
		inst.refs++
		r.instMu.Unlock()
		return inst, nil
	}
	r.instMu.Unlock()

	// Construct outside the instance lock; factories may block on I/O.
	capabilities, missing, err := r.resolveModuleCapabilities(ctx, desc)
	if err != nil {
		return nil, err
	}

	r.instMu.Lock()
	if inst, live := r.instances[id]; live {
		// Another request finished construction first; use theirs.
		inst.refs++
		r.instMu.Unlock()
		return inst, nil
	}
	inst := &Instance{
		Descriptor:   desc,
		StartedAt:    time.Now(),
		refs:         1,
		capabilities: capabilities,
		missing:      missing,
	}
	r.instances[id] = inst
	r.instMu.Unlock()

	if r.hooks != nil {
		r.hooks.ExecuteAsync(ctx, extensions.HookModuleMounted, extensions.ModuleEvent{
			ModuleID: id,
			Eager:    desc.EagerInit,
		})
	}
	r.logger.Info("module mounted",
		zap.String("module", id),
		zap.Bool("eager", desc.EagerInit))
	return inst, nil
}

// Release leaves a module. A lazy instance whose reference count reaches
// zero is destroyed; eager instances stay mounted.
func (r *Registry) Release(ctx context.Context, id string) {
	r.instMu.Lock()
	inst, live := r.instances[id]
	if !live {
		r.instMu.Unlock()
		return
	}
	inst.refs--
	if inst.refs > 0 || inst.Descriptor.EagerInit {
		r.instMu.Unlock()
		return
	}
	delete(r.instances, id)
	r.instMu.Unlock()

	if r.hooks != nil {
		r.hooks.ExecuteAsync(ctx, extensions.HookModuleUnmounted, extensions.ModuleEvent{
			ModuleID: id,
		})
	}
	r.logger.Info("module unmounted", zap.String("module", id))
}

// Mounted reports whether a module currently has a live instance
func (r *Registry) Mounted(id string) bool {
	r.instMu.Lock()
	defer r.instMu.Unlock()
	_, live := r.instances[id]
	return live
}

// Shutdown tears down all live instances. Capability teardown itself is the
// container's job; the registry only drops its references.
func (r *Registry) Shutdown(ctx context.Context) {
	r.instMu.Lock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.instances = make(map[string]*Instance)
	r.instMu.Unlock()

	for _, id := range ids {
		if r.hooks != nil {
			r.hooks.ExecuteAsync(ctx, extensions.HookModuleUnmounted, extensions.ModuleEvent{ModuleID: id})
		}
	}
}

// resolveModuleCapabilities resolves the blueprint, required, and optional
// capabilities the descriptor declares. Optional capabilities without a
// binding fall back to a registered stand-in or are recorded as missing.
func (r *Registry) resolveModuleCapabilities(ctx context.Context, desc *module.Descriptor) (map[string]interface{}, []string, error) {
	capabilities := make(map[string]interface{})
	var missing []string

	required := make([]string, 0, len(desc.Requires)+1)
	required = append(required, desc.Requires...)
	if desc.Backend != nil && desc.Backend.Blueprint != "" {
		required = append(required, desc.Backend.Blueprint)
	}

	for _, name := range required {
		instance, err := r.container.Resolve(ctx, name)
		if err != nil {
			return nil, nil, apperrors.Wrapf(err,
				"module %s requires capability %s which cannot be resolved", desc.ID, name)
		}
		capabilities[name] = instance
	}

	for _, name := range desc.Optional {
		if r.container.Bound(name) {
			instance, err := r.container.Resolve(ctx, name)
			if err != nil {
				return nil, nil, apperrors.Wrapf(err,
					"module %s optional capability %s failed to resolve", desc.ID, name)
			}
			capabilities[name] = instance
			continue
		}

		r.instMu.Lock()
		standIn, ok := r.standins[name]
		r.instMu.Unlock()
		if !ok {
			missing = append(missing, name)
			continue
		}
		instance, err := standIn(ctx, r.container)
		if err != nil {
			return nil, nil, apperrors.Wrapf(err,
				"stand-in for optional capability %s failed", name)
		}
		capabilities[name] = instance
	}

	return capabilities, missing, nil
}
