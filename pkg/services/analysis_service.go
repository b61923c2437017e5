package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// AnalysisService persists aggregate analysis results with supersession:
// saving a new CURRENT result marks the prior one SUPERSEDED in the same
// transaction, preserving the one-current-per-(run,type) invariant.
type AnalysisService struct {
	db *sqlx.DB
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(db *sqlx.DB) *AnalysisService {
	return &AnalysisService{db: db}
}

// Save stores a new current result for (runID, analysisType).
func (s *AnalysisService) Save(ctx context.Context, runID, analysisType, inputHash string, result []byte) (*models.AnalysisResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE analysis_results SET status = 'superseded'
		 WHERE run_id = $1 AND analysis_type = $2 AND status = 'current'`,
		runID, analysisType)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede analysis: %w", err)
	}

	rec := &models.AnalysisResult{
		ID:        uuid.New().String(),
		RunID:     runID,
		Type:      analysisType,
		Status:    models.AnalysisCurrent,
		InputHash: inputHash,
		Result:    result,
		CreatedAt: time.Now(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO analysis_results (analysis_id, run_id, analysis_type, status, input_hash, result, created_at)
		 VALUES ($1, $2, $3, 'current', $4, $5, $6)`,
		rec.ID, rec.RunID, rec.Type, rec.InputHash, rec.Result, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit analysis: %w", err)
	}
	return rec, nil
}

// Current returns the current result for (runID, analysisType).
func (s *AnalysisService) Current(ctx context.Context, runID, analysisType string) (*models.AnalysisResult, error) {
	var rec models.AnalysisResult
	err := s.db.GetContext(ctx, &rec,
		`SELECT analysis_id, run_id, analysis_type, status, input_hash, result, created_at
		 FROM analysis_results
		 WHERE run_id = $1 AND analysis_type = $2 AND status = 'current'`,
		runID, analysisType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}
	return &rec, nil
}

// CurrentHash returns the input hash of the current result, or "" when no
// current result exists. Used for cache lookups before recompute.
func (s *AnalysisService) CurrentHash(ctx context.Context, runID, analysisType string) (string, error) {
	rec, err := s.Current(ctx, runID, analysisType)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.InputHash, nil
}
