// Package provider maps model ids to the providers that own their
// rate-limit budgets.
package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// DefaultTTL is how long a registry snapshot is served before refresh.
const DefaultTTL = time.Minute

// Source is the persistence behind the registry (the provider service).
type Source interface {
	ListEnabledProviders(ctx context.Context) ([]*models.Provider, error)
	ListEnabledModels(ctx context.Context) ([]*models.Model, error)
	GetModel(ctx context.Context, modelID string) (*models.Model, error)
}

// Resolution is the outcome of a model lookup: the owning provider with
// its limits, and the model's versioned API name and cost.
type Resolution struct {
	Provider models.Provider
	Model    models.Model
}

// Registry is a lazy, TTL-cached view of the provider and model tables.
// Disabled providers are omitted. When the persistence layer is
// unavailable mid-request the last-known snapshot is served; with no
// snapshot at all, lookups miss and callers route to the default queue.
type Registry struct {
	source Source
	ttl    time.Duration

	mu        sync.RWMutex
	byModel   map[string]Resolution
	providers map[string]models.Provider
	fetchedAt time.Time
}

// NewRegistry creates a registry over the given source.
func NewRegistry(source Source, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{source: source, ttl: ttl}
}

// Resolve returns the provider and model for a model id. ok is false for
// unknown or disabled models; callers fall through to the default queue.
func (r *Registry) Resolve(ctx context.Context, modelID string) (Resolution, bool) {
	r.refreshIfStale(ctx)

	r.mu.RLock()
	res, ok := r.byModel[modelID]
	r.mu.RUnlock()
	if ok {
		return res, true
	}

	// Cache miss: direct lookup of the active model. Negative results are
	// allowed and fall through.
	m, err := r.source.GetModel(ctx, modelID)
	if err != nil {
		return Resolution{}, false
	}
	r.mu.RLock()
	p, ok := r.providers[m.Provider]
	r.mu.RUnlock()
	if !ok {
		return Resolution{}, false
	}
	res = Resolution{Provider: p, Model: *m}
	r.mu.Lock()
	if r.byModel != nil {
		r.byModel[modelID] = res
	}
	r.mu.Unlock()
	return res, true
}

// ProviderLimits returns one provider's limits from the cached snapshot.
func (r *Registry) ProviderLimits(ctx context.Context, name string) (models.Provider, bool) {
	r.refreshIfStale(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Providers returns the cached provider set (used for queue registration
// and limiter construction).
func (r *Registry) Providers(ctx context.Context) []models.Provider {
	r.refreshIfStale(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// ClearCache drops the snapshot so the next lookup rebuilds it. Exposed
// for settings changes.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byModel = nil
	r.providers = nil
	r.fetchedAt = time.Time{}
}

// refreshIfStale rebuilds the snapshot when it is older than the TTL.
// Writers hold the exclusive lock for the refresh duration.
func (r *Registry) refreshIfStale(ctx context.Context) {
	r.mu.RLock()
	fresh := r.byModel != nil && time.Since(r.fetchedAt) < r.ttl
	r.mu.RUnlock()
	if fresh {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byModel != nil && time.Since(r.fetchedAt) < r.ttl {
		return
	}

	providers, err := r.source.ListEnabledProviders(ctx)
	if err != nil {
		// Serve the last-known snapshot; an empty registry means lookups
		// miss and route to the default queue.
		slog.Warn("Provider registry refresh failed, serving stale cache", "error", err)
		return
	}
	modelRows, err := r.source.ListEnabledModels(ctx)
	if err != nil {
		slog.Warn("Provider registry refresh failed, serving stale cache", "error", err)
		return
	}

	providerSet := make(map[string]models.Provider, len(providers))
	for _, p := range providers {
		providerSet[p.Name] = *p
	}
	byModel := make(map[string]Resolution, len(modelRows))
	for _, m := range modelRows {
		p, ok := providerSet[m.Provider]
		if !ok {
			continue
		}
		byModel[m.ID] = Resolution{Provider: p, Model: *m}
	}

	r.providers = providerSet
	r.byModel = byModel
	r.fetchedAt = time.Now()
}
