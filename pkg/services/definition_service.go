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

// DefinitionService reads definitions, scenarios, and experiments.
// Soft-deleted rows are invisible; a scenario whose definition is
// soft-deleted is treated as deleted.
type DefinitionService struct {
	db *sqlx.DB
}

// NewDefinitionService creates a new DefinitionService.
func NewDefinitionService(db *sqlx.DB) *DefinitionService {
	return &DefinitionService{db: db}
}

// GetDefinition returns a live definition by id.
func (s *DefinitionService) GetDefinition(ctx context.Context, id string) (*models.Definition, error) {
	var def models.Definition
	err := s.db.GetContext(ctx, &def,
		`SELECT definition_id, name, content, created_at, deleted_at
		 FROM definitions WHERE definition_id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query definition: %w", err)
	}
	if err := def.HydrateContent(); err != nil {
		return nil, fmt.Errorf("failed to decode definition content: %w", err)
	}
	return &def, nil
}

// GetScenario returns a live scenario, rejecting scenarios whose parent
// definition is soft-deleted.
func (s *DefinitionService) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	var sc models.Scenario
	err := s.db.GetContext(ctx, &sc,
		`SELECT sc.scenario_id, sc.definition_id, sc.prompt, sc.dimension_values, sc.created_at, sc.deleted_at
		 FROM scenarios sc
		 JOIN definitions d ON d.definition_id = sc.definition_id
		 WHERE sc.scenario_id = $1 AND sc.deleted_at IS NULL AND d.deleted_at IS NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query scenario: %w", err)
	}
	if err := sc.HydrateDimensions(); err != nil {
		return nil, fmt.Errorf("failed to decode scenario dimensions: %w", err)
	}
	return &sc, nil
}

// ListLiveScenarioIDs returns the ids of all non-deleted scenarios of a
// definition, ordered by scenario id for deterministic sampling input.
func (s *DefinitionService) ListLiveScenarioIDs(ctx context.Context, definitionID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT scenario_id FROM scenarios
		 WHERE definition_id = $1 AND deleted_at IS NULL
		 ORDER BY scenario_id`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	return ids, nil
}

// GetExperiment returns a live experiment by id.
func (s *DefinitionService) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	var exp models.Experiment
	err := s.db.GetContext(ctx, &exp,
		`SELECT experiment_id, name, created_at, deleted_at
		 FROM experiments WHERE experiment_id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query experiment: %w", err)
	}
	return &exp, nil
}

// CreateDefinition persists a definition with its content snapshot.
func (s *DefinitionService) CreateDefinition(ctx context.Context, name string, content []byte) (*models.Definition, error) {
	if name == "" {
		return nil, NewValidationError("name", "required")
	}
	if len(content) == 0 {
		content = []byte(`{}`)
	}
	def := models.Definition{
		ID:         uuid.New().String(),
		Name:       name,
		ContentRaw: content,
		CreatedAt:  time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO definitions (definition_id, name, content, created_at) VALUES ($1, $2, $3, $4)`,
		def.ID, def.Name, def.ContentRaw, def.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}
	return &def, nil
}

// CreateScenario persists a scenario under a definition.
func (s *DefinitionService) CreateScenario(ctx context.Context, definitionID, prompt string, dimensions []byte) (*models.Scenario, error) {
	if definitionID == "" {
		return nil, NewValidationError("definition_id", "required")
	}
	if prompt == "" {
		return nil, NewValidationError("prompt", "required")
	}
	if len(dimensions) == 0 {
		dimensions = []byte(`{}`)
	}
	sc := models.Scenario{
		ID:           uuid.New().String(),
		DefinitionID: definitionID,
		Prompt:       prompt,
		DimensionRaw: dimensions,
		CreatedAt:    time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scenarios (scenario_id, definition_id, prompt, dimension_values, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sc.ID, sc.DefinitionID, sc.Prompt, sc.DimensionRaw, sc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario: %w", err)
	}
	return &sc, nil
}

// SoftDeleteScenario marks a scenario deleted.
func (s *DefinitionService) SoftDeleteScenario(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scenarios SET deleted_at = now() WHERE scenario_id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete scenario: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteDefinition marks a definition deleted. Its scenarios become
// invisible through the parent check; runs already started keep their
// snapshot and are unaffected.
func (s *DefinitionService) SoftDeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE definitions SET deleted_at = now() WHERE definition_id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete definition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
