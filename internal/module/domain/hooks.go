package domain

import "context"

// LifecycleHooks lets a module react when its entitlement is switched on or off.
// Both methods receive the stored config and return the config to persist.
type LifecycleHooks interface {
	OnActivate(ctx context.Context, storeID int64, config map[string]any) (map[string]any, error)
	OnDeactivate(ctx context.Context, storeID int64, config map[string]any) (map[string]any, error)
}
