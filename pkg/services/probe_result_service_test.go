package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

func TestProbeResultService_RecordAndLookup(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	svc := NewProbeResultService(db)

	defID, scenarios := seedDefinition(t, db, 2)
	runID := seedRun(t, db, defID, scenarios, []string{"gpt-test"})
	transcriptID := seedTranscript(t, db, runID, scenarios[0], "gpt-test")

	exists, err := svc.ExistsForAttempt(ctx, runID, scenarios[0], "gpt-test")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, svc.RecordSuccess(ctx, runID, scenarios[0], "gpt-test", transcriptID, 2300, 120, 45))
	require.NoError(t, svc.RecordFailure(ctx, runID, scenarios[1], "gpt-test", "rate_limit", "HTTP 429", 3))

	exists, err = svc.ExistsForAttempt(ctx, runID, scenarios[0], "gpt-test")
	require.NoError(t, err)
	assert.True(t, exists)

	attempts, err := svc.TerminalAttempts(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
	assert.Contains(t, attempts, scenarios[0]+"/gpt-test")
	assert.Contains(t, attempts, scenarios[1]+"/gpt-test")

	results, err := svc.ListByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byStatus := make(map[models.ProbeResultStatus]*models.ProbeResult)
	for _, r := range results {
		byStatus[r.Status] = r
	}
	success := byStatus[models.ProbeResultSuccess]
	require.NotNil(t, success)
	require.NotNil(t, success.TranscriptID)
	assert.Equal(t, transcriptID, *success.TranscriptID)
	assert.Equal(t, int64(2300), success.DurationMs)
	assert.Equal(t, 120, success.InputTokens)

	failed := byStatus[models.ProbeResultFailed]
	require.NotNil(t, failed)
	require.NotNil(t, failed.ErrorCode)
	assert.Equal(t, "rate_limit", *failed.ErrorCode)
	assert.Equal(t, 3, failed.RetryCount)
}

func TestProbeResultService_DuplicateAttemptRejected(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	svc := NewProbeResultService(db)

	defID, scenarios := seedDefinition(t, db, 1)
	runID := seedRun(t, db, defID, scenarios, []string{"gpt-test"})
	transcriptID := seedTranscript(t, db, runID, scenarios[0], "gpt-test")

	require.NoError(t, svc.RecordSuccess(ctx, runID, scenarios[0], "gpt-test", transcriptID, 100, 1, 1))

	// One terminal outcome per attempt: a second record of either kind
	// hits the unique index.
	err := svc.RecordSuccess(ctx, runID, scenarios[0], "gpt-test", transcriptID, 100, 1, 1)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	err = svc.RecordFailure(ctx, runID, scenarios[0], "gpt-test", "timeout", "timed out", 0)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
