package run

import (
	"context"
	"errors"

	"github.com/riverqueue/river"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/provider"
	"github.com/codemonkeychris/valuerank/pkg/queue"
	"github.com/codemonkeychris/valuerank/pkg/services"
)

type fakeDefs struct {
	definition *models.Definition
	experiment *models.Experiment
	scenarios  []string
}

func (f *fakeDefs) GetDefinition(ctx context.Context, id string) (*models.Definition, error) {
	if f.definition == nil || f.definition.ID != id {
		return nil, services.ErrNotFound
	}
	return f.definition, nil
}

func (f *fakeDefs) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	if f.experiment == nil || f.experiment.ID != id {
		return nil, services.ErrNotFound
	}
	return f.experiment, nil
}

func (f *fakeDefs) ListLiveScenarioIDs(ctx context.Context, definitionID string) ([]string, error) {
	return f.scenarios, nil
}

type fakeRunStore struct {
	created       *models.Run
	selections    []string
	unfinished    []*models.Run
	failed        []string
	resumed       *models.Run
	resumeCrossed bool
}

func (f *fakeRunStore) CreateRunWithSelections(ctx context.Context, run *models.Run, scenarioIDs []string) error {
	f.created = run
	f.selections = scenarioIDs
	return nil
}

func (f *fakeRunStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	if f.created == nil || f.created.ID != id {
		return nil, services.ErrNotFound
	}
	return f.created, nil
}

func (f *fakeRunStore) SelectedScenarioIDs(ctx context.Context, runID string) ([]string, error) {
	return f.selections, nil
}

func (f *fakeRunStore) Pause(ctx context.Context, runID string) (*models.Run, error) {
	return nil, services.ErrRunState
}

func (f *fakeRunStore) Resume(ctx context.Context, runID string) (*models.Run, bool, error) {
	if f.resumed == nil {
		return nil, false, services.ErrRunState
	}
	return f.resumed, f.resumeCrossed, nil
}

func (f *fakeRunStore) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	return nil, services.ErrRunState
}

func (f *fakeRunStore) Fail(ctx context.Context, runID string) (*models.Run, error) {
	f.failed = append(f.failed, runID)
	return nil, nil
}

func (f *fakeRunStore) ListUnfinished(ctx context.Context) ([]*models.Run, error) {
	return f.unfinished, nil
}

type fakeTranscriptReader struct {
	unsummarized []string
	all          []*models.Transcript
}

func (f *fakeTranscriptReader) ListUnsummarized(ctx context.Context, runID string) ([]string, error) {
	return f.unsummarized, nil
}

func (f *fakeTranscriptReader) ListByRun(ctx context.Context, runID string) ([]*models.Transcript, error) {
	return f.all, nil
}

type fakeResultReader struct {
	terminal map[string]struct{}
}

func (f *fakeResultReader) TerminalAttempts(ctx context.Context, runID string) (map[string]struct{}, error) {
	if f.terminal == nil {
		return map[string]struct{}{}, nil
	}
	return f.terminal, nil
}

type fakeScheduledReader struct {
	work *queue.ScheduledWork
}

func (f *fakeScheduledReader) ScheduledForRun(ctx context.Context, runID string) (*queue.ScheduledWork, error) {
	if f.work == nil {
		return &queue.ScheduledWork{
			ProbeAttempts:        map[string]struct{}{},
			SummarizeTranscripts: map[string]struct{}{},
		}, nil
	}
	return f.work, nil
}

type fakeRouter struct{}

func (fakeRouter) ProbeQueue(ctx context.Context, modelID string) string {
	return "probe_" + modelID
}

type fakeResolver struct {
	cost map[string]float64
}

func (f *fakeResolver) Resolve(ctx context.Context, modelID string) (provider.Resolution, bool) {
	cost, ok := f.cost[modelID]
	if !ok {
		return provider.Resolution{}, false
	}
	return provider.Resolution{
		Provider: models.Provider{Name: "prov"},
		Model:    models.Model{ID: modelID, CostPerMTokensUSD: cost},
	}, true
}

type insertedJob struct {
	args river.JobArgs
	opts *river.InsertOpts
}

type recordingEnqueuer struct {
	inserted []insertedJob
	failAll  bool
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
	if r.failAll {
		return errors.New("queue unavailable")
	}
	r.inserted = append(r.inserted, insertedJob{args: args, opts: opts})
	return nil
}

func (r *recordingEnqueuer) probeArgs() []queue.ProbeArgs {
	var out []queue.ProbeArgs
	for _, job := range r.inserted {
		if args, ok := job.args.(queue.ProbeArgs); ok {
			out = append(out, args)
		}
	}
	return out
}

func (r *recordingEnqueuer) summarizeArgs() []queue.SummarizeArgs {
	var out []queue.SummarizeArgs
	for _, job := range r.inserted {
		if args, ok := job.args.(queue.SummarizeArgs); ok {
			out = append(out, args)
		}
	}
	return out
}
