package adapters

import (
	"strings"

	"github.com/smallbiznis/modulebilling/internal/payment/adapters/payplus"
	"github.com/smallbiznis/modulebilling/internal/payment/adapters/sandbox"
	"github.com/smallbiznis/modulebilling/internal/payment/adapters/stripe"
	"github.com/smallbiznis/modulebilling/internal/payment/domain"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// NewDefaultRegistry registers every built-in gateway.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		sandbox.NewFactory(),
		payplus.NewFactory(),
		stripe.NewFactory(),
	)
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}
