package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// ProbeResultService appends terminal per-attempt records. Results are
// append-only: history survives whatever retention the queue applies.
type ProbeResultService struct {
	db *sqlx.DB
}

// NewProbeResultService creates a new ProbeResultService.
func NewProbeResultService(db *sqlx.DB) *ProbeResultService {
	return &ProbeResultService{db: db}
}

// RecordSuccess appends a SUCCESS result referencing the transcript. The
// unique index on (run, scenario, model) makes a second record for the
// same attempt return ErrAlreadyExists.
func (s *ProbeResultService) RecordSuccess(ctx context.Context, runID, scenarioID, modelID, transcriptID string, durationMs int64, inputTokens, outputTokens int) error {
	return insertSuccess(ctx, s.db, runID, scenarioID, modelID, transcriptID, durationMs, inputTokens, outputTokens)
}

// RecordSuccessTx is RecordSuccess inside a caller-owned transaction, for
// pairing the record with the run's progress increment.
func (s *ProbeResultService) RecordSuccessTx(ctx context.Context, tx *sqlx.Tx, runID, scenarioID, modelID, transcriptID string, durationMs int64, inputTokens, outputTokens int) error {
	return insertSuccess(ctx, tx, runID, scenarioID, modelID, transcriptID, durationMs, inputTokens, outputTokens)
}

// RecordFailure appends a FAILED result with the typed error.
func (s *ProbeResultService) RecordFailure(ctx context.Context, runID, scenarioID, modelID, errorCode, errorMessage string, retryCount int) error {
	return insertFailure(ctx, s.db, runID, scenarioID, modelID, errorCode, errorMessage, retryCount)
}

// RecordFailureTx is RecordFailure inside a caller-owned transaction.
func (s *ProbeResultService) RecordFailureTx(ctx context.Context, tx *sqlx.Tx, runID, scenarioID, modelID, errorCode, errorMessage string, retryCount int) error {
	return insertFailure(ctx, tx, runID, scenarioID, modelID, errorCode, errorMessage, retryCount)
}

func insertSuccess(ctx context.Context, ext sqlx.ExtContext, runID, scenarioID, modelID, transcriptID string, durationMs int64, inputTokens, outputTokens int) error {
	_, err := ext.ExecContext(ctx,
		`INSERT INTO probe_results (probe_result_id, run_id, scenario_id, model_id, status,
			transcript_id, duration_ms, input_tokens, output_tokens, created_at)
		 VALUES ($1, $2, $3, $4, 'success', $5, $6, $7, $8, $9)`,
		uuid.New().String(), runID, scenarioID, modelID,
		transcriptID, durationMs, inputTokens, outputTokens, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to record probe success: %w", err)
	}
	return nil
}

func insertFailure(ctx context.Context, ext sqlx.ExtContext, runID, scenarioID, modelID, errorCode, errorMessage string, retryCount int) error {
	_, err := ext.ExecContext(ctx,
		`INSERT INTO probe_results (probe_result_id, run_id, scenario_id, model_id, status,
			error_code, error_message, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, 'failed', $5, $6, $7, $8)`,
		uuid.New().String(), runID, scenarioID, modelID,
		errorCode, errorMessage, retryCount, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to record probe failure: %w", err)
	}
	return nil
}

// ExistsForAttempt reports whether a terminal result exists for one
// (run, scenario, model) attempt.
func (s *ProbeResultService) ExistsForAttempt(ctx context.Context, runID, scenarioID, modelID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM probe_results
		 WHERE run_id = $1 AND scenario_id = $2 AND model_id = $3)`,
		runID, scenarioID, modelID)
	if err != nil {
		return false, fmt.Errorf("failed to check probe result: %w", err)
	}
	return exists, nil
}

// TerminalAttempts returns the set of (scenario, model) attempts of a run
// that already have a terminal result, keyed "scenarioID/modelID".
func (s *ProbeResultService) TerminalAttempts(ctx context.Context, runID string) (map[string]struct{}, error) {
	type row struct {
		ScenarioID string `db:"scenario_id"`
		ModelID    string `db:"model_id"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT DISTINCT scenario_id, model_id FROM probe_results WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal attempts: %w", err)
	}
	set := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		set[r.ScenarioID+"/"+r.ModelID] = struct{}{}
	}
	return set, nil
}

// ListByRun returns all results of a run, newest first.
func (s *ProbeResultService) ListByRun(ctx context.Context, runID string) ([]*models.ProbeResult, error) {
	var rows []models.ProbeResult
	err := s.db.SelectContext(ctx, &rows,
		`SELECT probe_result_id, run_id, scenario_id, model_id, status, transcript_id,
			error_code, error_message, retry_count, duration_ms, input_tokens, output_tokens, created_at
		 FROM probe_results WHERE run_id = $1 ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list probe results: %w", err)
	}
	out := make([]*models.ProbeResult, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}
