package adapters

import (
	"sort"

	"github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
)

type RegistryParams struct {
	fx.In

	Providers []domain.Provider `group:"payment_providers"`
}

// Registry indexes provider implementations by id. It is immutable after construction.
type Registry struct {
	providers map[domain.ProviderID]domain.Provider
	order     []domain.ProviderID
}

func ProvideRegistry(p RegistryParams) *Registry {
	return NewRegistry(p.Providers...)
}

func NewRegistry(providers ...domain.Provider) *Registry {
	registry := &Registry{providers: map[domain.ProviderID]domain.Provider{}}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		id := provider.ID()
		if id == "" {
			continue
		}
		if _, exists := registry.providers[id]; !exists {
			registry.order = append(registry.order, id)
		}
		registry.providers[id] = provider
	}
	sort.Slice(registry.order, func(i, j int) bool { return registry.order[i] < registry.order[j] })
	return registry
}

func (r *Registry) Has(id domain.ProviderID) bool {
	if r == nil {
		return false
	}
	_, ok := r.providers[id]
	return ok
}

func (r *Registry) Provider(id domain.ProviderID) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotConfigured
	}
	provider, ok := r.providers[id]
	if !ok {
		return nil, domain.ErrProviderNotConfigured
	}
	return provider, nil
}

// PushProvider returns id's implementation when it can trigger USSD prompts.
func (r *Registry) PushProvider(id domain.ProviderID) (domain.PushProvider, error) {
	provider, err := r.Provider(id)
	if err != nil {
		return nil, err
	}
	push, ok := provider.(domain.PushProvider)
	if !ok {
		return nil, domain.ErrPushUnsupported
	}
	return push, nil
}

func (r *Registry) IDs() []domain.ProviderID {
	if r == nil {
		return nil
	}
	return append([]domain.ProviderID(nil), r.order...)
}

func (r *Registry) Providers() []domain.Provider {
	if r == nil {
		return nil
	}
	out := make([]domain.Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

func (r *Registry) Descriptors() []domain.ProviderDescriptor {
	providers := r.Providers()
	out := make([]domain.ProviderDescriptor, 0, len(providers))
	for _, provider := range providers {
		out = append(out, provider.Descriptor())
	}
	return out
}
