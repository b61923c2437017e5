package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// ProviderService reads the provider and model tables that back the
// provider registry.
type ProviderService struct {
	db *sqlx.DB
}

// NewProviderService creates a new ProviderService.
func NewProviderService(db *sqlx.DB) *ProviderService {
	return &ProviderService{db: db}
}

// ListEnabledProviders returns all enabled providers.
func (s *ProviderService) ListEnabledProviders(ctx context.Context) ([]*models.Provider, error) {
	var rows []models.Provider
	err := s.db.SelectContext(ctx, &rows,
		`SELECT name, max_parallel_requests, requests_per_minute, enabled, created_at, updated_at
		 FROM providers WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	out := make([]*models.Provider, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}

// ListEnabledModels returns all enabled models with their providers.
func (s *ProviderService) ListEnabledModels(ctx context.Context) ([]*models.Model, error) {
	var rows []models.Model
	err := s.db.SelectContext(ctx, &rows,
		`SELECT m.model_id, m.provider, m.api_name, m.cost_per_mtokens_usd, m.enabled, m.created_at, m.updated_at
		 FROM models m
		 JOIN providers p ON p.name = m.provider
		 WHERE m.enabled AND p.enabled
		 ORDER BY m.model_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	out := make([]*models.Model, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}

// GetModel returns one enabled model by id (direct lookup used by the
// registry on cache miss).
func (s *ProviderService) GetModel(ctx context.Context, modelID string) (*models.Model, error) {
	var m models.Model
	err := s.db.GetContext(ctx, &m,
		`SELECT m.model_id, m.provider, m.api_name, m.cost_per_mtokens_usd, m.enabled, m.created_at, m.updated_at
		 FROM models m
		 JOIN providers p ON p.name = m.provider
		 WHERE m.model_id = $1 AND m.enabled AND p.enabled`, modelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query model: %w", err)
	}
	return &m, nil
}

// GetProvider returns one enabled provider by name.
func (s *ProviderService) GetProvider(ctx context.Context, name string) (*models.Provider, error) {
	var p models.Provider
	err := s.db.GetContext(ctx, &p,
		`SELECT name, max_parallel_requests, requests_per_minute, enabled, created_at, updated_at
		 FROM providers WHERE name = $1 AND enabled`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query provider: %w", err)
	}
	return &p, nil
}
