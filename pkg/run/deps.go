package run

import (
	"context"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/provider"
	"github.com/codemonkeychris/valuerank/pkg/queue"
)

// Narrow capability interfaces over the services, mirroring the worker
// dependencies, so the controller and scheduler are testable with fakes.

// DefinitionReader resolves definitions and their scenarios.
type DefinitionReader interface {
	GetDefinition(ctx context.Context, id string) (*models.Definition, error)
	GetExperiment(ctx context.Context, id string) (*models.Experiment, error)
	ListLiveScenarioIDs(ctx context.Context, definitionID string) ([]string, error)
}

// RunStore covers the run rows the controller and scheduler touch.
type RunStore interface {
	CreateRunWithSelections(ctx context.Context, run *models.Run, scenarioIDs []string) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	SelectedScenarioIDs(ctx context.Context, runID string) ([]string, error)
	Pause(ctx context.Context, runID string) (*models.Run, error)
	Resume(ctx context.Context, runID string) (*models.Run, bool, error)
	Cancel(ctx context.Context, runID string) (*models.Run, error)
	Fail(ctx context.Context, runID string) (*models.Run, error)
	ListUnfinished(ctx context.Context) ([]*models.Run, error)
}

// TranscriptReader lists transcripts for summarize fan-out and recovery.
type TranscriptReader interface {
	ListUnsummarized(ctx context.Context, runID string) ([]string, error)
	ListByRun(ctx context.Context, runID string) ([]*models.Transcript, error)
}

// ResultReader exposes the terminal probe attempts of a run.
type ResultReader interface {
	TerminalAttempts(ctx context.Context, runID string) (map[string]struct{}, error)
}

// ScheduledReader reports a run's not-yet-finalized queue jobs.
type ScheduledReader interface {
	ScheduledForRun(ctx context.Context, runID string) (*queue.ScheduledWork, error)
}

// ProbeRouter picks the queue for one probe job.
type ProbeRouter interface {
	ProbeQueue(ctx context.Context, modelID string) string
}

// ModelResolver maps models to providers for cost estimation.
type ModelResolver interface {
	Resolve(ctx context.Context, modelID string) (provider.Resolution, bool)
}
