package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/queue"
	"github.com/codemonkeychris/valuerank/pkg/services"
)

// Defaults applied when a start request leaves a field unset.
const (
	defaultSamplePercentage = 100
	defaultTemperature      = 0.7
	defaultMaxTurns         = 3

	// estTokensPerProbe feeds the pre-flight cost estimate; a probe
	// conversation lands around this many total tokens on average.
	estTokensPerProbe = 2000
)

// StartRunRequest is the caller-facing input of StartRun.
type StartRunRequest struct {
	DefinitionID     string
	ExperimentID     *string
	Models           []string
	SamplePercentage int
	SampleSeed       *int64
	Priority         models.RunPriority
	Temperature      *float64
	MaxTurns         int
	CreatedBy        *string
}

// Controller orchestrates the run lifecycle: it creates runs with their
// sampled scenario selection, fans probe jobs out to the queue, and
// performs the phase follow-up when workers report transitions.
type Controller struct {
	definitions DefinitionReader
	runs        RunStore
	transcripts TranscriptReader
	resolver    ModelResolver
	router      ProbeRouter
	enqueuer    queue.Enqueuer
}

// NewController creates a run controller.
func NewController(
	definitions DefinitionReader,
	runs RunStore,
	transcripts TranscriptReader,
	resolver ModelResolver,
	router ProbeRouter,
	enqueuer queue.Enqueuer,
) *Controller {
	return &Controller{
		definitions: definitions,
		runs:        runs,
		transcripts: transcripts,
		resolver:    resolver,
		router:      router,
		enqueuer:    enqueuer,
	}
}

// StartRun validates the request, snapshots the configuration, creates
// the run with its sampled scenario selection, and enqueues one probe
// job per (scenario, model) pair.
//
// The run row and selection commit atomically before any job is
// enqueued; enqueue gaps are healed by the recovery scheduler, so a
// partial fan-out never strands a run.
func (c *Controller) StartRun(ctx context.Context, req StartRunRequest) (*models.Run, error) {
	if req.DefinitionID == "" {
		return nil, services.NewValidationError("definitionId", "required")
	}
	if len(req.Models) == 0 {
		return nil, services.NewValidationError("models", "at least one model is required")
	}
	seen := make(map[string]struct{}, len(req.Models))
	for _, m := range req.Models {
		if m == "" {
			return nil, services.NewValidationError("models", "model ids must be non-empty")
		}
		if _, dup := seen[m]; dup {
			return nil, services.NewValidationError("models", fmt.Sprintf("duplicate model %q", m))
		}
		seen[m] = struct{}{}
	}
	if req.SamplePercentage == 0 {
		req.SamplePercentage = defaultSamplePercentage
	}
	if req.SamplePercentage < 1 || req.SamplePercentage > 100 {
		return nil, services.NewValidationError("samplePercentage", "must be between 1 and 100")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, services.NewValidationError("priority", "must be low, normal, or high")
	}
	if req.MaxTurns == 0 {
		req.MaxTurns = defaultMaxTurns
	}
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return nil, services.NewValidationError("temperature", "must be between 0 and 2")
	}

	def, err := c.definitions.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}
	if req.ExperimentID != nil {
		if _, err := c.definitions.GetExperiment(ctx, *req.ExperimentID); err != nil {
			return nil, err
		}
	}

	scenarioIDs, err := c.definitions.ListLiveScenarioIDs(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}
	if len(scenarioIDs) == 0 {
		return nil, services.NewValidationError("definitionId", "definition has no scenarios")
	}

	seed := time.Now().UnixNano()
	if req.SampleSeed != nil {
		seed = *req.SampleSeed
	}
	sampled := SampleScenarios(scenarioIDs, req.SamplePercentage, seed)
	totalJobs := len(sampled) * len(req.Models)

	config := models.RunConfig{
		Models:           req.Models,
		SamplePercentage: req.SamplePercentage,
		SampleSeed:       &seed,
		Priority:         req.Priority,
		Temperature:      temperature,
		MaxTurns:         req.MaxTurns,
		EstimatedCostUSD: c.estimateCost(ctx, req.Models, len(sampled)),
	}
	if snapshot, err := json.Marshal(def.Content); err == nil {
		config.DefinitionSnapshot = snapshot
	}
	configRaw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run config: %w", err)
	}

	run := &models.Run{
		ID:            uuid.New().String(),
		DefinitionID:  req.DefinitionID,
		ExperimentID:  req.ExperimentID,
		Status:        models.RunStatusPending,
		Config:        config,
		ConfigRaw:     configRaw,
		Progress:      models.Progress{Total: totalJobs},
		ProgressTotal: totalJobs,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     time.Now(),
	}
	if err := c.runs.CreateRunWithSelections(ctx, run, sampled); err != nil {
		return nil, err
	}

	enqueued, failed := c.fanOut(ctx, run, sampled)
	slog.Info("Run started", "run_id", run.ID, "scenarios", len(sampled),
		"models", len(req.Models), "jobs", enqueued, "enqueue_failures", failed)
	if enqueued == 0 && failed > 0 {
		// Nothing reached the queue; fail rather than strand a pending run.
		if _, err := c.runs.Fail(ctx, run.ID); err != nil {
			slog.Error("Failed to mark run failed after fan-out failure", "run_id", run.ID, "error", err)
		}
		return nil, fmt.Errorf("failed to enqueue probe jobs for run %s", run.ID)
	}
	return run, nil
}

// fanOut enqueues one probe job per (scenario, model) pair. Individual
// failures are tolerated; the recovery scheduler re-enqueues gaps.
func (c *Controller) fanOut(ctx context.Context, run *models.Run, scenarioIDs []string) (enqueued, failed int) {
	for _, scenarioID := range scenarioIDs {
		for _, modelID := range run.Config.Models {
			if err := c.enqueueProbe(ctx, run, scenarioID, modelID); err != nil {
				slog.Warn("Failed to enqueue probe job", "run_id", run.ID,
					"scenario_id", scenarioID, "model_id", modelID, "error", err)
				failed++
				continue
			}
			enqueued++
		}
	}
	return enqueued, failed
}

func (c *Controller) enqueueProbe(ctx context.Context, run *models.Run, scenarioID, modelID string) error {
	args := queue.ProbeArgs{
		RunID:      run.ID,
		ScenarioID: scenarioID,
		ModelID:    modelID,
		Config: queue.ProbeJobConfig{
			Temperature: run.Config.Temperature,
			MaxTurns:    run.Config.MaxTurns,
		},
	}
	opts := args.InsertOpts()
	opts.Queue = c.router.ProbeQueue(ctx, modelID)
	opts.Priority = queue.RiverPriority(run.Config.Priority)
	return c.enqueuer.Enqueue(ctx, args, &opts)
}

// estimateCost computes the pre-flight cost snapshot from per-model
// pricing. Unknown models contribute zero.
func (c *Controller) estimateCost(ctx context.Context, modelIDs []string, scenarioCount int) float64 {
	var total float64
	for _, modelID := range modelIDs {
		res, ok := c.resolver.Resolve(ctx, modelID)
		if !ok {
			continue
		}
		total += float64(scenarioCount) * res.Model.CostPerMTokensUSD * estTokensPerProbe / 1e6
	}
	return total
}

// Pause suspends a run. Queued jobs stay queued and snooze at delivery.
func (c *Controller) Pause(ctx context.Context, runID string) (*models.Run, error) {
	return c.runs.Pause(ctx, runID)
}

// Resume moves a paused run back into flight. Snoozed jobs pick the run
// up on their next delivery. When the probe phase finished while the run
// was paused, the resume itself crosses the phase boundary, so the
// fan-out that an increment would normally trigger happens here.
func (c *Controller) Resume(ctx context.Context, runID string) (*models.Run, error) {
	resumed, crossed, err := c.runs.Resume(ctx, runID)
	if err != nil {
		return nil, err
	}
	if crossed {
		switch resumed.Status {
		case models.RunStatusSummarizing:
			c.RunEnteredSummarizing(ctx, runID)
		case models.RunStatusCompleted:
			c.RunCompleted(ctx, runID)
		}
	}
	return resumed, nil
}

// Cancel terminally cancels a run; its queued jobs drop at delivery.
func (c *Controller) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	return c.runs.Cancel(ctx, runID)
}

// GetRun returns one run.
func (c *Controller) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return c.runs.GetRun(ctx, runID)
}
