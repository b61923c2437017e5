package run

import (
	"context"
	"log/slog"

	"github.com/codemonkeychris/valuerank/pkg/queue"
)

// The controller is the queue workers' PhaseObserver: phase follow-up
// (summarize fan-out, analysis triggers) lives here so the workers stay
// free of enqueue policy.

// RunEnteredSummarizing enqueues a summarize job for every transcript
// still lacking a decision. Individual failures are tolerated; recovery
// re-enqueues gaps.
func (c *Controller) RunEnteredSummarizing(ctx context.Context, runID string) {
	transcriptIDs, err := c.transcripts.ListUnsummarized(ctx, runID)
	if err != nil {
		slog.Error("Failed to list transcripts for summarize fan-out", "run_id", runID, "error", err)
		return
	}
	slog.Info("Run entered summarizing", "run_id", runID, "transcripts", len(transcriptIDs))
	for _, transcriptID := range transcriptIDs {
		c.enqueueSummarize(ctx, runID, transcriptID)
	}
}

// TranscriptReady enqueues the summarize job for one late-arriving
// transcript.
func (c *Controller) TranscriptReady(ctx context.Context, runID, transcriptID string) {
	c.enqueueSummarize(ctx, runID, transcriptID)
}

// RunCompleted fires the downstream analysis triggers. Both are
// best-effort: analyses can be recomputed on demand, so a failed
// enqueue is logged and swallowed.
func (c *Controller) RunCompleted(ctx context.Context, runID string) {
	transcripts, err := c.transcripts.ListByRun(ctx, runID)
	if err != nil {
		slog.Error("Failed to list transcripts for analysis trigger", "run_id", runID, "error", err)
		return
	}
	transcriptIDs := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		transcriptIDs = append(transcriptIDs, t.ID)
	}

	if len(transcriptIDs) > 0 {
		args := queue.AnalyzeArgs{RunID: runID, TranscriptIDs: transcriptIDs}
		if err := c.enqueuer.Enqueue(ctx, args, nil); err != nil {
			slog.Warn("Failed to enqueue basic analysis", "run_id", runID, "error", err)
		}
	}
	if err := c.enqueuer.Enqueue(ctx, queue.TokenStatsArgs{RunID: runID}, nil); err != nil {
		slog.Warn("Failed to enqueue token stats", "run_id", runID, "error", err)
	}
}

func (c *Controller) enqueueSummarize(ctx context.Context, runID, transcriptID string) {
	args := queue.SummarizeArgs{RunID: runID, TranscriptID: transcriptID}
	if err := c.enqueuer.Enqueue(ctx, args, nil); err != nil {
		slog.Warn("Failed to enqueue summarize job", "run_id", runID,
			"transcript_id", transcriptID, "error", err)
	}
}
