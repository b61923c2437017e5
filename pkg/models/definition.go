package models

import (
	"encoding/json"
	"time"
)

// DimensionLevel is one labeled level of a definition dimension.
type DimensionLevel struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Dimension is one axis of variation in a definition template.
type Dimension struct {
	Name   string           `json:"name"`
	Levels []DimensionLevel `json:"levels"`
}

// DefinitionContent is the immutable declarative test spec: a preamble, a
// prompt template, the ordered dimensions the template expands over, and
// optional follow-up turns sent after the model's first reply.
type DefinitionContent struct {
	Preamble   string      `json:"preamble"`
	Template   string      `json:"template"`
	Dimensions []Dimension `json:"dimensions"`
	Followups  []string    `json:"followups,omitempty"`
}

// Definition is the declarative spec scenarios are derived from.
type Definition struct {
	ID         string            `db:"definition_id"`
	Name       string            `db:"name"`
	Content    DefinitionContent `db:"-"`
	ContentRaw []byte            `db:"content"`
	CreatedAt  time.Time         `db:"created_at"`
	DeletedAt  *time.Time        `db:"deleted_at"`
}

// HydrateContent decodes the stored content JSON.
func (d *Definition) HydrateContent() error {
	if len(d.ContentRaw) == 0 {
		return nil
	}
	return json.Unmarshal(d.ContentRaw, &d.Content)
}

// Scenario is a concrete prompt derived from a Definition. A scenario whose
// definition is soft-deleted is treated as deleted.
type Scenario struct {
	ID              string            `db:"scenario_id"`
	DefinitionID    string            `db:"definition_id"`
	Prompt          string            `db:"prompt"`
	DimensionValues map[string]string `db:"-"`
	DimensionRaw    []byte            `db:"dimension_values"`
	CreatedAt       time.Time         `db:"created_at"`
	DeletedAt       *time.Time        `db:"deleted_at"`
}

// HydrateDimensions decodes the stored dimension-value mapping.
func (s *Scenario) HydrateDimensions() error {
	if len(s.DimensionRaw) == 0 {
		return nil
	}
	return json.Unmarshal(s.DimensionRaw, &s.DimensionValues)
}

// Experiment groups related runs for comparison.
type Experiment struct {
	ID        string     `db:"experiment_id"`
	Name      string     `db:"name"`
	CreatedAt time.Time  `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}
