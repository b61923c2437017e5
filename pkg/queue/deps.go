package queue

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/provider"
	"github.com/codemonkeychris/valuerank/pkg/ratelimit"
	"github.com/codemonkeychris/valuerank/pkg/services"
)

// The workers depend on narrow capability interfaces rather than the
// concrete services, so tests can substitute fakes without a database.

// RunProgress covers the run reads and counter mutations the workers
// perform. The increment mutators accept a record callback that runs in
// the same transaction as the counter move, so a terminal record and its
// increment commit or roll back together.
type RunProgress interface {
	Status(ctx context.Context, runID string) (models.RunStatus, error)
	IncrementCompleted(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error)
	IncrementFailed(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error)
	IncrementSummarizeCompleted(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error)
	IncrementSummarizeFailed(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error)
}

// ScenarioSource resolves scenarios and their parent definitions.
type ScenarioSource interface {
	GetScenario(ctx context.Context, id string) (*models.Scenario, error)
	GetDefinition(ctx context.Context, id string) (*models.Definition, error)
}

// TranscriptStore covers transcript persistence for both workers.
type TranscriptStore interface {
	Create(ctx context.Context, t *models.Transcript) error
	Get(ctx context.Context, id string) (*models.Transcript, error)
	GetByAttempt(ctx context.Context, runID, scenarioID, modelID string) (*models.Transcript, error)
	SetDecisionTx(ctx context.Context, tx *sqlx.Tx, id, decisionCode, decisionText string) error
}

// ResultRecorder appends terminal probe outcomes inside the progress
// increment's transaction.
type ResultRecorder interface {
	RecordSuccessTx(ctx context.Context, tx *sqlx.Tx, runID, scenarioID, modelID, transcriptID string, durationMs int64, inputTokens, outputTokens int) error
	RecordFailureTx(ctx context.Context, tx *sqlx.Tx, runID, scenarioID, modelID, errorCode, errorMessage string, retryCount int) error
	ExistsForAttempt(ctx context.Context, runID, scenarioID, modelID string) (bool, error)
}

// ModelResolver maps a model id to its provider and limits.
type ModelResolver interface {
	Resolve(ctx context.Context, modelID string) (provider.Resolution, bool)
}

// Limiter admits LLM calls under the provider's constraints.
type Limiter interface {
	Run(ctx context.Context, provider string, meta ratelimit.JobMeta, fn func(context.Context) error) error
	RunSummarize(ctx context.Context, provider string, concurrencyOverride int, meta ratelimit.JobMeta, fn func(context.Context) error) error
}

// SettingsSource reads the persisted settings the summarize worker uses.
type SettingsSource interface {
	SummarizeConcurrency(ctx context.Context, fallback int) int
	InfraModel(ctx context.Context, purpose string) (*models.InfraModel, error)
}
