package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// SettingsService reads and writes the persisted key/value settings store.
type SettingsService struct {
	db *sqlx.DB
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(db *sqlx.DB) *SettingsService {
	return &SettingsService{db: db}
}

// Get decodes the setting value into out.
func (s *SettingsService) Get(ctx context.Context, key string, out any) error {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM settings WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return nil
}

// Set upserts a setting value.
func (s *SettingsService) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, raw)
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// SummarizeConcurrency returns the summarization parallelism override, or
// the fallback when unset.
func (s *SettingsService) SummarizeConcurrency(ctx context.Context, fallback int) int {
	var n int
	if err := s.Get(ctx, models.SettingSummarizeConcurrency, &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

// InfraModel returns the configured infra model for a purpose
// (key infra_model_<purpose>).
func (s *SettingsService) InfraModel(ctx context.Context, purpose string) (*models.InfraModel, error) {
	var im models.InfraModel
	if err := s.Get(ctx, "infra_model_"+purpose, &im); err != nil {
		return nil, err
	}
	return &im, nil
}
