package run

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/queue"
)

// DefaultRecoveryInterval is how often the scheduler rescans unfinished
// runs between the startup scan and shutdown.
const DefaultRecoveryInterval = 5 * time.Minute

// Scheduler reconciles unfinished runs against the queue: probe
// attempts with neither a terminal result nor a live job are
// re-enqueued, and unsummarized transcripts without a live summarize
// job get one. Scans are idempotent; the transcript uniqueness check
// and the decision write make double-enqueues harmless.
type Scheduler struct {
	controller  *Controller
	runs        RunStore
	transcripts TranscriptReader
	results     ResultReader
	scheduled   ScheduledReader
	interval    time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a recovery scheduler. interval <= 0 selects
// DefaultRecoveryInterval.
func NewScheduler(
	controller *Controller,
	runs RunStore,
	transcripts TranscriptReader,
	results ResultReader,
	scheduled ScheduledReader,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return &Scheduler{
		controller:  controller,
		runs:        runs,
		transcripts: transcripts,
		results:     results,
		scheduled:   scheduled,
		interval:    interval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the startup scan and then rescans on the interval until
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)

		if err := s.Scan(ctx); err != nil {
			slog.Error("Startup recovery scan failed", "error", err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Scan(ctx); err != nil {
					slog.Error("Recovery scan failed", "error", err)
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scan loop and waits for an in-flight scan to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Scan reconciles every unfinished run once.
func (s *Scheduler) Scan(ctx context.Context) error {
	runs, err := s.runs.ListUnfinished(ctx)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run.Status == models.RunStatusPaused {
			// Paused runs keep their queued jobs snoozing; nothing to heal
			// until resume.
			continue
		}
		if err := s.reconcileRun(ctx, run); err != nil {
			slog.Error("Failed to reconcile run", "run_id", run.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) reconcileRun(ctx context.Context, run *models.Run) error {
	scheduled, err := s.scheduled.ScheduledForRun(ctx, run.ID)
	if err != nil {
		return err
	}

	probes, err := s.reconcileProbes(ctx, run, scheduled)
	if err != nil {
		return err
	}
	summaries := 0
	if run.Status == models.RunStatusSummarizing {
		if summaries, err = s.reconcileSummaries(ctx, run, scheduled); err != nil {
			return err
		}
	}
	if probes > 0 || summaries > 0 {
		slog.Info("Recovered lost jobs", "run_id", run.ID,
			"probe_jobs", probes, "summarize_jobs", summaries)
	}
	return nil
}

// reconcileProbes re-enqueues (scenario, model) attempts with neither a
// terminal result nor a live queue job.
func (s *Scheduler) reconcileProbes(ctx context.Context, run *models.Run, scheduled *queue.ScheduledWork) (int, error) {
	scenarioIDs, err := s.runs.SelectedScenarioIDs(ctx, run.ID)
	if err != nil {
		return 0, err
	}
	terminal, err := s.results.TerminalAttempts(ctx, run.ID)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, scenarioID := range scenarioIDs {
		for _, modelID := range run.Config.Models {
			key := queue.AttemptKey(scenarioID, modelID)
			if _, done := terminal[key]; done {
				continue
			}
			if _, queued := scheduled.ProbeAttempts[key]; queued {
				continue
			}
			if err := s.controller.enqueueProbe(ctx, run, scenarioID, modelID); err != nil {
				slog.Warn("Failed to re-enqueue probe job", "run_id", run.ID,
					"scenario_id", scenarioID, "model_id", modelID, "error", err)
				continue
			}
			recovered++
		}
	}
	return recovered, nil
}

// reconcileSummaries re-enqueues summarize jobs for unsummarized
// transcripts with no live job.
func (s *Scheduler) reconcileSummaries(ctx context.Context, run *models.Run, scheduled *queue.ScheduledWork) (int, error) {
	transcriptIDs, err := s.transcripts.ListUnsummarized(ctx, run.ID)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, transcriptID := range transcriptIDs {
		if _, queued := scheduled.SummarizeTranscripts[transcriptID]; queued {
			continue
		}
		s.controller.enqueueSummarize(ctx, run.ID, transcriptID)
		recovered++
	}
	return recovered, nil
}
