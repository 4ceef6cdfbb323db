package router

import (
	"slices"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/provider"
)

// Router picks one configured provider per request.
type Router struct {
	providers       map[string]provider.Provider
	defaultProvider string
}

func New(providers map[string]provider.Provider, defaultProvider string) *Router {
	return &Router{
		providers:       providers,
		defaultProvider: defaultProvider,
	}
}

// SelectProvider resolves an explicit hint first, then the first provider whose
// catalog lists the model (default provider checked first), then the default.
func (r *Router) SelectProvider(providerHint, model string) (provider.Provider, error) {
	if providerHint != "" {
		if p, ok := r.providers[providerHint]; ok {
			return p, nil
		}
		return nil, domain.ErrProviderNotFound
	}

	if p := r.findProviderByModel(model); p != nil {
		return p, nil
	}

	if p, ok := r.providers[r.defaultProvider]; ok {
		return p, nil
	}

	if ids := r.ListProviders(); len(ids) > 0 {
		return r.providers[ids[0]], nil
	}

	return nil, domain.ErrProviderNotFound
}

func (r *Router) findProviderByModel(model string) provider.Provider {
	if model == "" {
		return nil
	}
	if p, ok := r.providers[r.defaultProvider]; ok {
		if _, ok := p.ModelByID(model); ok {
			return p
		}
	}
	for _, id := range r.ListProviders() {
		if _, ok := r.providers[id].ModelByID(model); ok {
			return r.providers[id]
		}
	}
	return nil
}

func (r *Router) GetProvider(id string) (provider.Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

func (r *Router) DefaultProvider() string {
	return r.defaultProvider
}

// ListProviders returns provider IDs in sorted order.
func (r *Router) ListProviders() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
