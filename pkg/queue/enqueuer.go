package queue

import (
	"context"

	"github.com/riverqueue/river"
)

// Enqueuer is the insert-only capability handed to the run controller,
// the recovery scheduler, and the workers. Keeping it narrow lets tests
// substitute a recorder and keeps the handlers off the full client.
type Enqueuer interface {
	Enqueue(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error
}

// PhaseObserver is notified when a progress increment crosses a phase
// boundary. The run controller implements it; the workers call it so
// phase follow-up (summarize fan-out, analysis triggers) stays in one
// place.
type PhaseObserver interface {
	// RunEnteredSummarizing fires on the RUNNING→SUMMARIZING transition.
	RunEnteredSummarizing(ctx context.Context, runID string)
	// TranscriptReady fires when a probe lands after the run is already
	// summarizing; only that transcript needs a summarize job.
	TranscriptReady(ctx context.Context, runID, transcriptID string)
	// RunCompleted fires on terminal completion of the summarize phase.
	RunCompleted(ctx context.Context, runID string)
}
