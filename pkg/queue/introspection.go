package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// JobCounts aggregates job states into the four user-facing buckets.
type JobCounts struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobFailure is one recent job failure surfaced for debugging.
type JobFailure struct {
	JobID    int64     `json:"jobId"`
	Kind     string    `json:"kind"`
	Queue    string    `json:"queue"`
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// ScheduledWork is the set of not-yet-finalized jobs of one run, keyed
// the way the recovery scheduler reconciles them.
type ScheduledWork struct {
	// ProbeAttempts holds "scenarioID/modelID" keys.
	ProbeAttempts map[string]struct{}
	// SummarizeTranscripts holds transcript ids.
	SummarizeTranscripts map[string]struct{}
}

// Introspection reads the queue's job table through the client. The job
// rows are the queue's own schema; nothing here writes.
type Introspection struct {
	client *Client
}

// NewIntrospection creates an introspection reader.
func NewIntrospection(client *Client) *Introspection {
	return &Introspection{client: client}
}

// liveStates are the states a job can still run from.
var liveStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateScheduled,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
}

// runArgs is the common payload prefix of run-scoped jobs.
type runArgs struct {
	RunID        string `json:"runId"`
	ScenarioID   string `json:"scenarioId"`
	ModelID      string `json:"modelId"`
	TranscriptID string `json:"transcriptId"`
}

// RunStats aggregates job counts and recent failures for one run across
// every queue, filtered by the runId in each payload.
func (i *Introspection) RunStats(ctx context.Context, runID string) (map[string]*JobCounts, []JobFailure, error) {
	counts := make(map[string]*JobCounts)
	var failures []JobFailure

	states := append([]rivertype.JobState{
		rivertype.JobStateCompleted,
		rivertype.JobStateCancelled,
		rivertype.JobStateDiscarded,
	}, liveStates...)

	jobs, err := i.list(ctx, river.NewJobListParams().States(states...).First(10000))
	if err != nil {
		return nil, nil, err
	}
	for _, job := range jobs {
		var args runArgs
		if err := json.Unmarshal(job.EncodedArgs, &args); err != nil || args.RunID != runID {
			continue
		}
		c := counts[job.Kind]
		if c == nil {
			c = &JobCounts{}
			counts[job.Kind] = c
		}
		switch job.State {
		case rivertype.JobStateRunning:
			c.Active++
		case rivertype.JobStateCompleted:
			c.Completed++
		case rivertype.JobStateCancelled, rivertype.JobStateDiscarded:
			c.Failed++
		default:
			c.Pending++
		}
		if len(job.Errors) > 0 {
			last := job.Errors[len(job.Errors)-1]
			failures = append(failures, JobFailure{
				JobID:    job.ID,
				Kind:     job.Kind,
				Queue:    job.Queue,
				Attempt:  last.Attempt,
				Error:    last.Error,
				FailedAt: last.At,
			})
		}
	}
	return counts, failures, nil
}

// ScheduledForRun returns the run's jobs that are still queued or
// running, so recovery does not enqueue duplicates.
func (i *Introspection) ScheduledForRun(ctx context.Context, runID string) (*ScheduledWork, error) {
	work := &ScheduledWork{
		ProbeAttempts:        make(map[string]struct{}),
		SummarizeTranscripts: make(map[string]struct{}),
	}

	jobs, err := i.list(ctx, river.NewJobListParams().
		Kinds(ProbeArgs{}.Kind(), SummarizeArgs{}.Kind()).
		States(liveStates...).
		First(10000))
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		var args runArgs
		if err := json.Unmarshal(job.EncodedArgs, &args); err != nil || args.RunID != runID {
			continue
		}
		switch job.Kind {
		case ProbeArgs{}.Kind():
			work.ProbeAttempts[AttemptKey(args.ScenarioID, args.ModelID)] = struct{}{}
		case SummarizeArgs{}.Kind():
			work.SummarizeTranscripts[args.TranscriptID] = struct{}{}
		}
	}
	return work, nil
}

func (i *Introspection) list(ctx context.Context, params *river.JobListParams) ([]*rivertype.JobRow, error) {
	res, err := i.client.River().JobList(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return res.Jobs, nil
}

// AttemptKey identifies one (scenario, model) probe attempt.
func AttemptKey(scenarioID, modelID string) string {
	return scenarioID + "/" + modelID
}
