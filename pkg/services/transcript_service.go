package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// TranscriptService persists probe transcripts and their summarize-pass
// decisions.
type TranscriptService struct {
	db *sqlx.DB
}

// NewTranscriptService creates a new TranscriptService.
func NewTranscriptService(db *sqlx.DB) *TranscriptService {
	return &TranscriptService{db: db}
}

const transcriptColumns = `transcript_id, run_id, scenario_id, model_id, model_version,
	content, decision_code, decision_text, summarized_at, definition_snapshot, created_at, deleted_at`

// Create persists a transcript. The partial unique index on
// (run_id, scenario_id, model_id) makes redelivered probe jobs safe:
// a second insert for the same attempt returns ErrAlreadyExists.
func (s *TranscriptService) Create(ctx context.Context, t *models.Transcript) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (transcript_id, run_id, scenario_id, model_id, model_version,
			content, definition_snapshot, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.RunID, t.ScenarioID, t.ModelID, t.ModelVersion,
		t.ContentRaw, t.DefSnapshot, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create transcript: %w", err)
	}
	return nil
}

// Get returns a live transcript by id.
func (s *TranscriptService) Get(ctx context.Context, id string) (*models.Transcript, error) {
	var t models.Transcript
	err := s.db.GetContext(ctx, &t,
		`SELECT `+transcriptColumns+` FROM transcripts
		 WHERE transcript_id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	return &t, nil
}

// GetByAttempt returns the live transcript for one (run, scenario, model)
// attempt, if any. Used by the probe handler to short-circuit replays.
func (s *TranscriptService) GetByAttempt(ctx context.Context, runID, scenarioID, modelID string) (*models.Transcript, error) {
	var t models.Transcript
	err := s.db.GetContext(ctx, &t,
		`SELECT `+transcriptColumns+` FROM transcripts
		 WHERE run_id = $1 AND scenario_id = $2 AND model_id = $3 AND deleted_at IS NULL`,
		runID, scenarioID, modelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query transcript by attempt: %w", err)
	}
	return &t, nil
}

// SetDecision writes the summarize pass outcome. A transcript is mutated
// exactly once: an already-summarized transcript is left untouched and
// reported via ErrAlreadyExists.
func (s *TranscriptService) SetDecision(ctx context.Context, id, decisionCode, decisionText string) error {
	return setDecision(ctx, s.db, id, decisionCode, decisionText)
}

// SetDecisionTx is SetDecision inside a caller-owned transaction, for
// pairing the decision write with the run's summarize increment.
func (s *TranscriptService) SetDecisionTx(ctx context.Context, tx *sqlx.Tx, id, decisionCode, decisionText string) error {
	return setDecision(ctx, tx, id, decisionCode, decisionText)
}

func setDecision(ctx context.Context, ext sqlx.ExtContext, id, decisionCode, decisionText string) error {
	res, err := ext.ExecContext(ctx,
		`UPDATE transcripts
		 SET decision_code = $2, decision_text = $3, summarized_at = now()
		 WHERE transcript_id = $1 AND summarized_at IS NULL AND deleted_at IS NULL`,
		id, decisionCode, decisionText)
	if err != nil {
		return fmt.Errorf("failed to store decision: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Missing or already summarized; distinguish for callers.
		var exists bool
		if err := sqlx.GetContext(ctx, ext, &exists,
			`SELECT EXISTS (SELECT 1 FROM transcripts WHERE transcript_id = $1 AND deleted_at IS NULL)`, id); err != nil {
			return fmt.Errorf("failed to check transcript: %w", err)
		}
		if exists {
			return ErrAlreadyExists
		}
		return ErrNotFound
	}
	return nil
}

// CountByRun returns the number of live transcripts of a run.
func (s *TranscriptService) CountByRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM transcripts WHERE run_id = $1 AND deleted_at IS NULL`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to count transcripts: %w", err)
	}
	return count, nil
}

// ListUnsummarized returns ids of live transcripts still lacking a
// summarized_at stamp, for recovery reconciliation.
func (s *TranscriptService) ListUnsummarized(ctx context.Context, runID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT transcript_id FROM transcripts
		 WHERE run_id = $1 AND summarized_at IS NULL AND deleted_at IS NULL
		 ORDER BY transcript_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsummarized transcripts: %w", err)
	}
	return ids, nil
}

// AllSummarized reports whether every live transcript of a run carries a
// summarized_at stamp. Run completion is gated on this.
func (s *TranscriptService) AllSummarized(ctx context.Context, runID string) (bool, error) {
	var pending int
	err := s.db.GetContext(ctx, &pending,
		`SELECT COUNT(*) FROM transcripts
		 WHERE run_id = $1 AND summarized_at IS NULL AND deleted_at IS NULL`, runID)
	if err != nil {
		return false, fmt.Errorf("failed to count unsummarized transcripts: %w", err)
	}
	return pending == 0, nil
}

// ListByRun returns all live transcripts of a run ordered by creation.
func (s *TranscriptService) ListByRun(ctx context.Context, runID string) ([]*models.Transcript, error) {
	var rows []models.Transcript
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+transcriptColumns+` FROM transcripts
		 WHERE run_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at, transcript_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	out := make([]*models.Transcript, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}
