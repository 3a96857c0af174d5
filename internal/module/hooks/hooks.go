package hooks

import (
	"context"
	"maps"
	"sync"

	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
)

// Registry maps module ids to their lifecycle hooks. Modules without a
// registered implementation get hooks that only seed the catalog defaults.
type Registry struct {
	mu      sync.RWMutex
	catalog moduledomain.Catalog
	hooks   map[string]moduledomain.LifecycleHooks
}

func NewRegistry(catalog moduledomain.Catalog) *Registry {
	r := &Registry{
		catalog: catalog,
		hooks:   make(map[string]moduledomain.LifecycleHooks),
	}
	r.Register("saturday-shutdown", saturdayShutdown{defaults: r.defaultsFor("saturday-shutdown")})
	return r
}

func (r *Registry) Register(moduleID string, h moduledomain.LifecycleHooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[moduleID] = h
}

func (r *Registry) For(moduleID string) moduledomain.LifecycleHooks {
	r.mu.RLock()
	h, ok := r.hooks[moduleID]
	r.mu.RUnlock()
	if ok {
		return h
	}
	return seedDefaults{defaults: r.defaultsFor(moduleID)}
}

func (r *Registry) defaultsFor(moduleID string) map[string]any {
	if r.catalog == nil {
		return nil
	}
	def, err := r.catalog.Get(moduleID)
	if err != nil {
		return nil
	}
	return def.DefaultConfig
}

// seedDefaults fills in any missing keys from the catalog defaults on
// activation and leaves config untouched on deactivation.
type seedDefaults struct {
	defaults map[string]any
}

func (h seedDefaults) OnActivate(_ context.Context, _ int64, config map[string]any) (map[string]any, error) {
	return mergeDefaults(config, h.defaults), nil
}

func (h seedDefaults) OnDeactivate(_ context.Context, _ int64, config map[string]any) (map[string]any, error) {
	return maps.Clone(config), nil
}

// saturdayShutdown reopens the storefront when the module goes away so a
// store is never left closed by a module it no longer has.
type saturdayShutdown struct {
	defaults map[string]any
}

func (h saturdayShutdown) OnActivate(_ context.Context, _ int64, config map[string]any) (map[string]any, error) {
	return mergeDefaults(config, h.defaults), nil
}

func (h saturdayShutdown) OnDeactivate(_ context.Context, _ int64, config map[string]any) (map[string]any, error) {
	out := maps.Clone(config)
	if out == nil {
		out = map[string]any{}
	}
	out["store_closed"] = false
	return out, nil
}

func mergeDefaults(config, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(config)+len(defaults))
	maps.Copy(out, defaults)
	maps.Copy(out, config)
	return out
}
