package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/test/util"
)

// seedDefinition creates a definition with n scenarios and returns the
// definition id and the scenario ids in listing order.
func seedDefinition(t *testing.T, db *sqlx.DB, n int) (string, []string) {
	t.Helper()
	ctx := context.Background()
	defs := NewDefinitionService(db)

	def, err := defs.CreateDefinition(ctx, "trolley-variants", []byte(`{"preamble":"You are deciding."}`))
	require.NoError(t, err)

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sc, err := defs.CreateScenario(ctx, def.ID, "what do you do?", []byte(`{"stakes":"high"}`))
		require.NoError(t, err)
		ids = append(ids, sc.ID)
	}
	return def.ID, ids
}

// seedRun creates a pending run over the given scenarios with
// progress_total = len(scenarioIDs) * len(modelIDs).
func seedRun(t *testing.T, db *sqlx.DB, definitionID string, scenarioIDs, modelIDs []string) string {
	t.Helper()
	cfg, err := json.Marshal(models.RunConfig{
		Models:           modelIDs,
		SamplePercentage: 100,
		Priority:         models.PriorityNormal,
		Temperature:      0.7,
		MaxTurns:         3,
	})
	require.NoError(t, err)

	run := &models.Run{
		ID:            uuid.New().String(),
		DefinitionID:  definitionID,
		Status:        models.RunStatusPending,
		ConfigRaw:     cfg,
		ProgressTotal: len(scenarioIDs) * len(modelIDs),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, NewRunService(db).CreateRunWithSelections(context.Background(), run, scenarioIDs))
	return run.ID
}

// seedTranscript inserts one transcript for an attempt.
func seedTranscript(t *testing.T, db *sqlx.DB, runID, scenarioID, modelID string) string {
	t.Helper()
	tr := &models.Transcript{
		ID:         uuid.New().String(),
		RunID:      runID,
		ScenarioID: scenarioID,
		ModelID:    modelID,
		ContentRaw: []byte(`{"turns":[{"role":"assistant","content":"pull the lever"}],"totalInputTokens":120,"totalOutputTokens":45}`),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, NewTranscriptService(db).Create(context.Background(), tr))
	return tr.ID
}

// setupDB is a small alias so every test reads the same way.
func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	return util.SetupTestDatabase(t)
}
