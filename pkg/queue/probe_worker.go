package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/riverqueue/river"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/producer"
	"github.com/codemonkeychris/valuerank/pkg/ratelimit"
	"github.com/codemonkeychris/valuerank/pkg/services"
)

// pauseSnooze is how long jobs of a paused run sleep before the queue
// redelivers them.
const pauseSnooze = 30 * time.Second

const probeTimeout = 10 * time.Minute

// errorCodeUnknown labels failures with no structured code.
const errorCodeUnknown = "unknown"

// ProbeWorker consumes probe jobs: it calls the transcript producer
// through the rate limiter, persists the transcript, records the
// terminal outcome, and advances run progress.
//
// Every step is redelivery-safe: the transcript uniqueness constraint
// short-circuits replays, and terminal-run jobs are dropped at entry.
type ProbeWorker struct {
	river.WorkerDefaults[ProbeArgs]
	runs        RunProgress
	scenarios   ScenarioSource
	transcripts TranscriptStore
	results     ResultRecorder
	resolver    ModelResolver
	limiter     Limiter
	producer    producer.TranscriptProducer
	observer    PhaseObserver
}

// NewProbeWorker creates a probe worker.
func NewProbeWorker(
	runs RunProgress,
	scenarios ScenarioSource,
	transcripts TranscriptStore,
	results ResultRecorder,
	resolver ModelResolver,
	limiter Limiter,
	transcriptProducer producer.TranscriptProducer,
	observer PhaseObserver,
) *ProbeWorker {
	return &ProbeWorker{
		runs:        runs,
		scenarios:   scenarios,
		transcripts: transcripts,
		results:     results,
		resolver:    resolver,
		limiter:     limiter,
		producer:    transcriptProducer,
		observer:    observer,
	}
}

func (w *ProbeWorker) Timeout(job *river.Job[ProbeArgs]) time.Duration {
	return probeTimeout
}

func (w *ProbeWorker) Work(ctx context.Context, job *river.Job[ProbeArgs]) error {
	args := job.Args
	log := slog.With("job_id", job.ID, "run_id", args.RunID,
		"scenario_id", args.ScenarioID, "model_id", args.ModelID)

	status, err := w.runs.Status(ctx, args.RunID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			log.Warn("Dropping probe job for missing run")
			return nil
		}
		return err
	}
	if status.IsTerminal() {
		log.Info("Dropping probe job for terminal run", "status", status)
		return nil
	}
	if status == models.RunStatusPaused {
		return river.JobSnooze(pauseSnooze)
	}

	// Replay short-circuit: a transcript for this attempt means a prior
	// delivery already succeeded past the producer call.
	if existing, err := w.transcripts.GetByAttempt(ctx, args.RunID, args.ScenarioID, args.ModelID); err == nil {
		log.Info("Probe already has a transcript, completing replayed job")
		return w.settleSuccess(ctx, job, existing, 0)
	} else if !errors.Is(err, services.ErrNotFound) {
		return err
	}

	scenario, err := w.scenarios.GetScenario(ctx, args.ScenarioID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			// Scenario (or its definition) was soft-deleted after fan-out.
			return w.settleFailure(ctx, job, "scenario_deleted", "scenario no longer exists")
		}
		return err
	}

	var preamble string
	var followups []string
	if def, err := w.scenarios.GetDefinition(ctx, scenario.DefinitionID); err == nil {
		preamble = def.Content.Preamble
		followups = def.Content.Followups
	} else if !errors.Is(err, services.ErrNotFound) {
		return err
	}

	providerName := "default"
	apiName := args.ModelID
	var modelCost *float64
	if res, ok := w.resolver.Resolve(ctx, args.ModelID); ok {
		providerName = res.Provider.Name
		apiName = res.Model.APIName
		if res.Model.CostPerMTokensUSD > 0 {
			cost := res.Model.CostPerMTokensUSD
			modelCost = &cost
		}
	}

	req := &producer.ProbeRequest{
		RunID:      args.RunID,
		ScenarioID: args.ScenarioID,
		ModelID:    apiName,
		Scenario: producer.ScenarioInput{
			Preamble:  preamble,
			Prompt:    scenario.Prompt,
			Followups: followups,
		},
		Config: producer.ProbeConfig{
			Temperature: args.Config.Temperature,
			MaxTurns:    args.Config.MaxTurns,
		},
		ModelCost: modelCost,
	}

	meta := ratelimit.JobMeta{
		JobID:      fmt.Sprintf("%d", job.ID),
		RunID:      args.RunID,
		ScenarioID: args.ScenarioID,
		ModelID:    args.ModelID,
	}

	started := time.Now()
	var resp *producer.ProbeResponse
	callErr := w.limiter.Run(ctx, providerName, meta, func(ctx context.Context) error {
		var err error
		resp, err = w.producer.Probe(ctx, req)
		return err
	})
	durationMs := time.Since(started).Milliseconds()

	if callErr != nil {
		return w.handleError(ctx, job, log, errorCodeUnknown, callErr.Error(), IsRetryable(callErr.Error()))
	}
	if !resp.Success {
		code := errorCodeUnknown
		msg := "producer reported failure"
		if resp.Err != nil {
			msg = resp.Err.Message
			if resp.Err.Code != "" {
				code = resp.Err.Code
			}
		}
		return w.handleError(ctx, job, log, code, msg, RetryableProducerError(resp.Err))
	}
	if resp.Transcript == nil || len(resp.Transcript.Turns) == 0 {
		return w.settleFailure(ctx, job, "invalid_transcript", "producer returned success without transcript turns")
	}

	content, err := json.Marshal(resp.Transcript)
	if err != nil {
		return w.settleFailure(ctx, job, "invalid_transcript", fmt.Sprintf("transcript not encodable: %v", err))
	}
	transcript := &models.Transcript{
		ID:           uuid.New().String(),
		RunID:        args.RunID,
		ScenarioID:   args.ScenarioID,
		ModelID:      args.ModelID,
		ModelVersion: apiName,
		Content:      *resp.Transcript,
		ContentRaw:   content,
		CreatedAt:    time.Now(),
	}
	if err := w.transcripts.Create(ctx, transcript); err != nil {
		if errors.Is(err, services.ErrAlreadyExists) {
			// A concurrent redelivery won the insert race.
			existing, err := w.transcripts.GetByAttempt(ctx, args.RunID, args.ScenarioID, args.ModelID)
			if err != nil {
				return err
			}
			return w.settleSuccess(ctx, job, existing, durationMs)
		}
		return err
	}

	log.Info("Probe succeeded", "transcript_id", transcript.ID, "duration_ms", durationMs)
	return w.settleSuccess(ctx, job, transcript, durationMs)
}

// handleError routes a producer failure: retryable errors go back to the
// queue until the attempt budget is exhausted, then convert to terminal.
func (w *ProbeWorker) handleError(ctx context.Context, job *river.Job[ProbeArgs], log *slog.Logger, code, message string, retryable bool) error {
	if retryable && job.Attempt < job.MaxAttempts {
		log.Warn("Probe failed, queue will retry", "attempt", job.Attempt, "error", message)
		return fmt.Errorf("probe attempt %d failed: %s", job.Attempt, message)
	}
	if retryable {
		log.Warn("Probe retries exhausted, failing terminally", "error", message)
	}
	return w.settleFailure(ctx, job, code, message)
}

// settleFailure records the terminal probe failure and advances progress
// in one transaction: a crash can never leave a result without its
// counter move, so a replayed job that finds the result knows the
// increment landed with it.
func (w *ProbeWorker) settleFailure(ctx context.Context, job *river.Job[ProbeArgs], code, message string) error {
	args := job.Args
	exists, err := w.results.ExistsForAttempt(ctx, args.RunID, args.ScenarioID, args.ModelID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	res, err := w.runs.IncrementFailed(ctx, args.RunID, func(ctx context.Context, tx *sqlx.Tx) error {
		return w.results.RecordFailureTx(ctx, tx, args.RunID, args.ScenarioID, args.ModelID, code, message, job.Attempt-1)
	})
	if err != nil {
		if errors.Is(err, services.ErrAlreadyExists) {
			// A concurrent delivery settled the attempt first.
			return nil
		}
		return err
	}
	w.notify(ctx, res, "")
	return nil
}

// settleSuccess records the terminal success and advances progress, same
// single-transaction shape as settleFailure. Also the replay path.
func (w *ProbeWorker) settleSuccess(ctx context.Context, job *river.Job[ProbeArgs], t *models.Transcript, durationMs int64) error {
	args := job.Args
	exists, err := w.results.ExistsForAttempt(ctx, args.RunID, args.ScenarioID, args.ModelID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	res, err := w.runs.IncrementCompleted(ctx, args.RunID, func(ctx context.Context, tx *sqlx.Tx) error {
		return w.results.RecordSuccessTx(ctx, tx, args.RunID, args.ScenarioID, args.ModelID,
			t.ID, durationMs, t.Content.TotalInputTokens, t.Content.TotalOutputTokens)
	})
	if err != nil {
		if errors.Is(err, services.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	w.notify(ctx, res, t.ID)
	return nil
}

// notify fires the phase-boundary callbacks derived from one increment.
func (w *ProbeWorker) notify(ctx context.Context, res *services.MutationResult, transcriptID string) {
	switch {
	case res.EnteredSummarizing():
		w.observer.RunEnteredSummarizing(ctx, res.RunID)
	case res.Completed():
		w.observer.RunCompleted(ctx, res.RunID)
	case res.Status == models.RunStatusSummarizing && transcriptID != "":
		// Late arrival: the run crossed into summarizing on an earlier
		// increment, so only this transcript needs a job.
		w.observer.TranscriptReady(ctx, res.RunID, transcriptID)
	}
}
