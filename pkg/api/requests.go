package api

import (
	"time"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// CreateRunRequest is the POST /runs body.
type CreateRunRequest struct {
	DefinitionID     string   `json:"definitionId" binding:"required"`
	ExperimentID     *string  `json:"experimentId,omitempty"`
	Models           []string `json:"models" binding:"required"`
	SamplePercentage int      `json:"samplePercentage,omitempty"`
	SampleSeed       *int64   `json:"sampleSeed,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTurns         int      `json:"maxTurns,omitempty"`
	CreatedBy        *string  `json:"createdBy,omitempty"`
}

// ProgressView is one {total, completed, failed} tuple.
type ProgressView struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RunResponse is the public shape of a run.
type RunResponse struct {
	ID               string       `json:"id"`
	DefinitionID     string       `json:"definitionId"`
	ExperimentID     *string      `json:"experimentId,omitempty"`
	Status           string       `json:"status"`
	Progress         ProgressView `json:"progress"`
	Summarize        ProgressView `json:"summarize"`
	Models           []string     `json:"models"`
	SamplePercentage int          `json:"samplePercentage"`
	Priority         string       `json:"priority"`
	EstimatedCostUSD float64      `json:"estimatedCostUsd"`
	CreatedAt        time.Time    `json:"createdAt"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
}

func toRunResponse(run *models.Run) RunResponse {
	return RunResponse{
		ID:               run.ID,
		DefinitionID:     run.DefinitionID,
		ExperimentID:     run.ExperimentID,
		Status:           string(run.Status),
		Progress:         ProgressView(run.Progress),
		Summarize:        ProgressView(run.Summarize),
		Models:           run.Config.Models,
		SamplePercentage: run.Config.SamplePercentage,
		Priority:         string(run.Config.Priority),
		EstimatedCostUSD: run.Config.EstimatedCostUSD,
		CreatedAt:        run.CreatedAt,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
	}
}

// TranscriptResponse is the public shape of a transcript.
type TranscriptResponse struct {
	ID           string     `json:"id"`
	ScenarioID   string     `json:"scenarioId"`
	ModelID      string     `json:"modelId"`
	ModelVersion string     `json:"modelVersion"`
	DecisionCode *string    `json:"decisionCode,omitempty"`
	DecisionText *string    `json:"decisionText,omitempty"`
	SummarizedAt *time.Time `json:"summarizedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func toTranscriptResponse(t *models.Transcript) TranscriptResponse {
	return TranscriptResponse{
		ID:           t.ID,
		ScenarioID:   t.ScenarioID,
		ModelID:      t.ModelID,
		ModelVersion: t.ModelVersion,
		DecisionCode: t.DecisionCode,
		DecisionText: t.DecisionText,
		SummarizedAt: t.SummarizedAt,
		CreatedAt:    t.CreatedAt,
	}
}
