package queue

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/producer"
	"github.com/codemonkeychris/valuerank/pkg/provider"
	"github.com/codemonkeychris/valuerank/pkg/ratelimit"
	"github.com/codemonkeychris/valuerank/pkg/services"
)

type fakeRuns struct {
	status       models.RunStatus
	next         *services.MutationResult
	incrementErr error
	completed    int
	failed       int
	sumCompleted int
	sumFailed    int
}

func (f *fakeRuns) Status(ctx context.Context, runID string) (models.RunStatus, error) {
	if f.status == "" {
		return "", services.ErrNotFound
	}
	return f.status, nil
}

func (f *fakeRuns) result(runID string) *services.MutationResult {
	if f.next != nil {
		return f.next
	}
	return &services.MutationResult{RunID: runID, Previous: f.status, Status: f.status}
}

// increment mirrors the real mutators' transactional contract: when the
// counter move fails the whole transaction rolls back, so the record
// callback's side effects never happen.
func (f *fakeRuns) increment(ctx context.Context, runID string, record services.TxFunc, counter *int) (*services.MutationResult, error) {
	if f.incrementErr != nil {
		err := f.incrementErr
		f.incrementErr = nil
		return nil, err
	}
	if record != nil {
		if err := record(ctx, nil); err != nil {
			return nil, err
		}
	}
	*counter++
	return f.result(runID), nil
}

func (f *fakeRuns) IncrementCompleted(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error) {
	return f.increment(ctx, runID, record, &f.completed)
}

func (f *fakeRuns) IncrementFailed(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error) {
	return f.increment(ctx, runID, record, &f.failed)
}

func (f *fakeRuns) IncrementSummarizeCompleted(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error) {
	return f.increment(ctx, runID, record, &f.sumCompleted)
}

func (f *fakeRuns) IncrementSummarizeFailed(ctx context.Context, runID string, record services.TxFunc) (*services.MutationResult, error) {
	return f.increment(ctx, runID, record, &f.sumFailed)
}

type fakeScenarios struct {
	scenario   *models.Scenario
	definition *models.Definition
}

func (f *fakeScenarios) GetScenario(ctx context.Context, id string) (*models.Scenario, error) {
	if f.scenario == nil || f.scenario.ID != id {
		return nil, services.ErrNotFound
	}
	return f.scenario, nil
}

func (f *fakeScenarios) GetDefinition(ctx context.Context, id string) (*models.Definition, error) {
	if f.definition == nil {
		return nil, services.ErrNotFound
	}
	return f.definition, nil
}

type fakeTranscripts struct {
	byID      map[string]*models.Transcript
	byAttempt map[string]*models.Transcript
	created   []*models.Transcript
	decisions map[string]string
}

func newFakeTranscripts() *fakeTranscripts {
	return &fakeTranscripts{
		byID:      make(map[string]*models.Transcript),
		byAttempt: make(map[string]*models.Transcript),
		decisions: make(map[string]string),
	}
}

func (f *fakeTranscripts) add(t *models.Transcript) {
	f.byID[t.ID] = t
	f.byAttempt[AttemptKey(t.ScenarioID, t.ModelID)+"/"+t.RunID] = t
}

func (f *fakeTranscripts) Create(ctx context.Context, t *models.Transcript) error {
	key := AttemptKey(t.ScenarioID, t.ModelID) + "/" + t.RunID
	if _, ok := f.byAttempt[key]; ok {
		return services.ErrAlreadyExists
	}
	f.add(t)
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTranscripts) Get(ctx context.Context, id string) (*models.Transcript, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return t, nil
}

func (f *fakeTranscripts) GetByAttempt(ctx context.Context, runID, scenarioID, modelID string) (*models.Transcript, error) {
	t, ok := f.byAttempt[AttemptKey(scenarioID, modelID)+"/"+runID]
	if !ok {
		return nil, services.ErrNotFound
	}
	return t, nil
}

func (f *fakeTranscripts) SetDecisionTx(ctx context.Context, tx *sqlx.Tx, id, decisionCode, decisionText string) error {
	t, ok := f.byID[id]
	if !ok {
		return services.ErrNotFound
	}
	if t.SummarizedAt != nil || f.decisions[id] != "" {
		return services.ErrAlreadyExists
	}
	f.decisions[id] = decisionCode
	return nil
}

type recordedFailure struct {
	code    string
	message string
	retries int
}

type fakeResults struct {
	existing  map[string]bool
	successes []string
	failures  []recordedFailure

	// staleRead makes the next existence check miss, the way a reader
	// races a concurrent insert that has not committed yet.
	staleRead bool
}

func newFakeResults() *fakeResults {
	return &fakeResults{existing: make(map[string]bool)}
}

func (f *fakeResults) RecordSuccessTx(ctx context.Context, tx *sqlx.Tx, runID, scenarioID, modelID, transcriptID string, durationMs int64, inputTokens, outputTokens int) error {
	if f.existing[AttemptKey(scenarioID, modelID)] {
		return services.ErrAlreadyExists
	}
	f.existing[AttemptKey(scenarioID, modelID)] = true
	f.successes = append(f.successes, transcriptID)
	return nil
}

func (f *fakeResults) RecordFailureTx(ctx context.Context, tx *sqlx.Tx, runID, scenarioID, modelID, errorCode, errorMessage string, retryCount int) error {
	if f.existing[AttemptKey(scenarioID, modelID)] {
		return services.ErrAlreadyExists
	}
	f.existing[AttemptKey(scenarioID, modelID)] = true
	f.failures = append(f.failures, recordedFailure{code: errorCode, message: errorMessage, retries: retryCount})
	return nil
}

func (f *fakeResults) ExistsForAttempt(ctx context.Context, runID, scenarioID, modelID string) (bool, error) {
	if f.staleRead {
		f.staleRead = false
		return false, nil
	}
	return f.existing[AttemptKey(scenarioID, modelID)], nil
}

type fakeResolver struct {
	res provider.Resolution
	ok  bool
}

func (f *fakeResolver) Resolve(ctx context.Context, modelID string) (provider.Resolution, bool) {
	return f.res, f.ok
}

type fakeLimiter struct {
	providers []string
	overrides []int
}

func (f *fakeLimiter) Run(ctx context.Context, provider string, meta ratelimit.JobMeta, fn func(context.Context) error) error {
	f.providers = append(f.providers, provider)
	return fn(ctx)
}

func (f *fakeLimiter) RunSummarize(ctx context.Context, provider string, concurrencyOverride int, meta ratelimit.JobMeta, fn func(context.Context) error) error {
	f.providers = append(f.providers, provider+":summarize")
	f.overrides = append(f.overrides, concurrencyOverride)
	return fn(ctx)
}

type fakeSettings struct {
	concurrency int
	infraModel  *models.InfraModel
}

func (f *fakeSettings) SummarizeConcurrency(ctx context.Context, fallback int) int {
	if f.concurrency > 0 {
		return f.concurrency
	}
	return fallback
}

func (f *fakeSettings) InfraModel(ctx context.Context, purpose string) (*models.InfraModel, error) {
	if f.infraModel == nil {
		return nil, services.ErrNotFound
	}
	return f.infraModel, nil
}

type fakeObserver struct {
	enteredSummarizing []string
	completed          []string
	transcriptReady    []string
}

func (f *fakeObserver) RunEnteredSummarizing(ctx context.Context, runID string) {
	f.enteredSummarizing = append(f.enteredSummarizing, runID)
}

func (f *fakeObserver) TranscriptReady(ctx context.Context, runID, transcriptID string) {
	f.transcriptReady = append(f.transcriptReady, transcriptID)
}

func (f *fakeObserver) RunCompleted(ctx context.Context, runID string) {
	f.completed = append(f.completed, runID)
}

type fakeTranscriptProducer struct {
	resp *producer.ProbeResponse
	err  error
	reqs []*producer.ProbeRequest
}

func (f *fakeTranscriptProducer) Probe(ctx context.Context, req *producer.ProbeRequest) (*producer.ProbeResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type fakeSummaryProducer struct {
	resp *producer.SummaryResponse
	err  error
	reqs []*producer.SummaryRequest
}

func (f *fakeSummaryProducer) Summarize(ctx context.Context, req *producer.SummaryRequest) (*producer.SummaryResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}
