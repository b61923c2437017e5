package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/riverqueue/river"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/producer"
	"github.com/codemonkeychris/valuerank/pkg/ratelimit"
	"github.com/codemonkeychris/valuerank/pkg/services"
)

const summarizeTimeout = 5 * time.Minute

// DefaultSummarizeConcurrency applies when the settings store has no
// summarization parallelism override.
const DefaultSummarizeConcurrency = 8

// summarizerPurpose is the settings key suffix for the infra model that
// performs summarization.
const summarizerPurpose = "summarizer"

// decisionError marks transcripts whose summarization failed terminally,
// so run completion is never blocked on a poisoned transcript.
const decisionError = "error"

// SummarizeWorker consumes summarize jobs: it calls the summary producer
// through the provider's summarization lane, writes the decision onto
// the transcript, and advances summarize progress. The last terminal
// outcome completes the run.
type SummarizeWorker struct {
	river.WorkerDefaults[SummarizeArgs]
	runs        RunProgress
	transcripts TranscriptStore
	resolver    ModelResolver
	limiter     Limiter
	settings    SettingsSource
	producer    producer.SummaryProducer
	observer    PhaseObserver
}

// NewSummarizeWorker creates a summarize worker.
func NewSummarizeWorker(
	runs RunProgress,
	transcripts TranscriptStore,
	resolver ModelResolver,
	limiter Limiter,
	settings SettingsSource,
	summaryProducer producer.SummaryProducer,
	observer PhaseObserver,
) *SummarizeWorker {
	return &SummarizeWorker{
		runs:        runs,
		transcripts: transcripts,
		resolver:    resolver,
		limiter:     limiter,
		settings:    settings,
		producer:    summaryProducer,
		observer:    observer,
	}
}

func (w *SummarizeWorker) Timeout(job *river.Job[SummarizeArgs]) time.Duration {
	return summarizeTimeout
}

func (w *SummarizeWorker) Work(ctx context.Context, job *river.Job[SummarizeArgs]) error {
	args := job.Args
	log := slog.With("job_id", job.ID, "run_id", args.RunID, "transcript_id", args.TranscriptID)

	status, err := w.runs.Status(ctx, args.RunID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			log.Warn("Dropping summarize job for missing run")
			return nil
		}
		return err
	}
	if status.IsTerminal() {
		log.Info("Dropping summarize job for terminal run", "status", status)
		return nil
	}
	if status == models.RunStatusPaused {
		return river.JobSnooze(pauseSnooze)
	}

	transcript, err := w.transcripts.Get(ctx, args.TranscriptID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			// Enqueued before the transcript became visible, or swept.
			log.Warn("Dropping summarize job for missing transcript")
			return nil
		}
		return err
	}
	if transcript.SummarizedAt != nil {
		log.Info("Transcript already summarized, completing replayed job")
		return nil
	}
	if err := transcript.HydrateContent(); err != nil {
		return w.settle(ctx, job, log, decisionError, fmt.Sprintf("transcript content unreadable: %v", err))
	}

	modelID := w.summaryModel(ctx, args, transcript)
	providerName := "default"
	apiName := modelID
	if res, ok := w.resolver.Resolve(ctx, modelID); ok {
		providerName = res.Provider.Name
		apiName = res.Model.APIName
	}
	override := w.settings.SummarizeConcurrency(ctx, DefaultSummarizeConcurrency)

	req := &producer.SummaryRequest{
		TranscriptID:      transcript.ID,
		ModelID:           apiName,
		TranscriptContent: transcript.Content,
	}
	meta := ratelimit.JobMeta{
		JobID:   fmt.Sprintf("%d", job.ID),
		RunID:   args.RunID,
		ModelID: modelID,
	}

	var resp *producer.SummaryResponse
	callErr := w.limiter.RunSummarize(ctx, providerName, override, meta, func(ctx context.Context) error {
		var err error
		resp, err = w.producer.Summarize(ctx, req)
		return err
	})

	if callErr != nil {
		return w.handleError(ctx, job, log, callErr.Error(), IsRetryable(callErr.Error()))
	}
	if !resp.Success {
		msg := "producer reported failure"
		if resp.Err != nil {
			msg = resp.Err.Error()
		}
		return w.handleError(ctx, job, log, msg, RetryableProducerError(resp.Err))
	}
	if resp.Summary == nil || resp.Summary.DecisionCode == "" {
		return w.settle(ctx, job, log, decisionError, "producer returned success without a decision")
	}

	log.Info("Transcript summarized", "decision_code", resp.Summary.DecisionCode)
	return w.settle(ctx, job, log, resp.Summary.DecisionCode, resp.Summary.DecisionText)
}

// summaryModel picks the model that performs the summarization: the
// job's explicit override, then the configured infra summarizer, then
// the probed model itself.
func (w *SummarizeWorker) summaryModel(ctx context.Context, args SummarizeArgs, transcript *models.Transcript) string {
	if args.SummaryModelID != nil && *args.SummaryModelID != "" {
		return *args.SummaryModelID
	}
	if im, err := w.settings.InfraModel(ctx, summarizerPurpose); err == nil && im.ModelID != "" {
		return im.ModelID
	}
	return transcript.ModelID
}

// handleError routes a summarize failure: retryable errors go back to
// the queue until attempts are exhausted, then a synthetic error
// decision is written so the run can still complete.
func (w *SummarizeWorker) handleError(ctx context.Context, job *river.Job[SummarizeArgs], log *slog.Logger, message string, retryable bool) error {
	if retryable && job.Attempt < job.MaxAttempts {
		log.Warn("Summarize failed, queue will retry", "attempt", job.Attempt, "error", message)
		return fmt.Errorf("summarize attempt %d failed: %s", job.Attempt, message)
	}
	if retryable {
		log.Warn("Summarize retries exhausted, writing error decision", "error", message)
	}
	return w.settle(ctx, job, log, decisionError, message)
}

// settle writes the decision and advances summarize progress in one
// transaction. The decision write is the idempotency gate: a replay
// that finds the transcript already summarized does not double-count,
// and a crash can never separate the decision from its counter move.
func (w *SummarizeWorker) settle(ctx context.Context, job *river.Job[SummarizeArgs], log *slog.Logger, decisionCode, decisionText string) error {
	args := job.Args
	increment := w.runs.IncrementSummarizeCompleted
	if decisionCode == decisionError {
		increment = w.runs.IncrementSummarizeFailed
	}
	res, err := increment(ctx, args.RunID, func(ctx context.Context, tx *sqlx.Tx) error {
		return w.transcripts.SetDecisionTx(ctx, tx, args.TranscriptID, decisionCode, decisionText)
	})
	if err != nil {
		if errors.Is(err, services.ErrAlreadyExists) || errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return err
	}
	if res.Completed() {
		log.Info("Run completed")
		w.observer.RunCompleted(ctx, res.RunID)
	}
	return nil
}
