package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

func TestSettingsService_SetGetRoundtrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	svc := NewSettingsService(db)

	var out int
	assert.ErrorIs(t, svc.Get(ctx, "missing", &out), ErrNotFound)

	require.NoError(t, svc.Set(ctx, models.SettingSummarizeConcurrency, 16))
	require.NoError(t, svc.Get(ctx, models.SettingSummarizeConcurrency, &out))
	assert.Equal(t, 16, out)

	// Upsert overwrites.
	require.NoError(t, svc.Set(ctx, models.SettingSummarizeConcurrency, 4))
	require.NoError(t, svc.Get(ctx, models.SettingSummarizeConcurrency, &out))
	assert.Equal(t, 4, out)
}

func TestSettingsService_SummarizeConcurrencyFallback(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	svc := NewSettingsService(db)

	assert.Equal(t, 8, svc.SummarizeConcurrency(ctx, 8))

	require.NoError(t, svc.Set(ctx, models.SettingSummarizeConcurrency, 32))
	assert.Equal(t, 32, svc.SummarizeConcurrency(ctx, 8))

	// Non-positive overrides fall back too.
	require.NoError(t, svc.Set(ctx, models.SettingSummarizeConcurrency, 0))
	assert.Equal(t, 8, svc.SummarizeConcurrency(ctx, 8))
}

func TestSettingsService_InfraModel(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	svc := NewSettingsService(db)

	_, err := svc.InfraModel(ctx, "summarizer")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Set(ctx, models.SettingInfraModelSummarizer,
		models.InfraModel{ProviderID: "openai", ModelID: "gpt-5-mini"}))

	im, err := svc.InfraModel(ctx, "summarizer")
	require.NoError(t, err)
	assert.Equal(t, "openai", im.ProviderID)
	assert.Equal(t, "gpt-5-mini", im.ModelID)
}
