package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/queue"
)

// TranscriptSource lists a run's transcripts.
type TranscriptSource interface {
	ListByRun(ctx context.Context, runID string) ([]*models.Transcript, error)
}

// ResultStore persists analysis results with supersession.
type ResultStore interface {
	Save(ctx context.Context, runID, analysisType, inputHash string, result []byte) (*models.AnalysisResult, error)
	CurrentHash(ctx context.Context, runID, analysisType string) (string, error)
}

// BasicWorker consumes analyze_basic jobs: it recomputes the decision
// distribution unless the current result already covers the same
// transcript set.
type BasicWorker struct {
	river.WorkerDefaults[queue.AnalyzeArgs]
	transcripts TranscriptSource
	results     ResultStore
}

// NewBasicWorker creates the basic-analysis worker.
func NewBasicWorker(transcripts TranscriptSource, results ResultStore) *BasicWorker {
	return &BasicWorker{transcripts: transcripts, results: results}
}

func (w *BasicWorker) Work(ctx context.Context, job *river.Job[queue.AnalyzeArgs]) error {
	args := job.Args

	transcripts, err := w.transcripts.ListByRun(ctx, args.RunID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		ids = append(ids, t.ID)
	}
	hash := InputHash(ids)

	if !args.Force {
		current, err := w.results.CurrentHash(ctx, args.RunID, TypeBasic)
		if err != nil {
			return err
		}
		if current == hash {
			slog.Info("Basic analysis unchanged, skipping", "run_id", args.RunID)
			return nil
		}
	}

	result := ComputeBasic(args.RunID, transcripts)
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode basic analysis: %w", err)
	}
	if _, err := w.results.Save(ctx, args.RunID, TypeBasic, hash, raw); err != nil {
		return err
	}
	slog.Info("Basic analysis stored", "run_id", args.RunID, "transcripts", len(transcripts))
	return nil
}

// TokenStatsWorker consumes compute_token_stats jobs. Jobs are unique
// per run, so concurrent completion triggers collapse to one.
type TokenStatsWorker struct {
	river.WorkerDefaults[queue.TokenStatsArgs]
	transcripts TranscriptSource
	results     ResultStore
	resolver    CostResolver
}

// NewTokenStatsWorker creates the token-statistics worker.
func NewTokenStatsWorker(transcripts TranscriptSource, results ResultStore, resolver CostResolver) *TokenStatsWorker {
	return &TokenStatsWorker{transcripts: transcripts, results: results, resolver: resolver}
}

func (w *TokenStatsWorker) Work(ctx context.Context, job *river.Job[queue.TokenStatsArgs]) error {
	args := job.Args

	transcripts, err := w.transcripts.ListByRun(ctx, args.RunID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		ids = append(ids, t.ID)
	}
	hash := InputHash(ids)

	current, err := w.results.CurrentHash(ctx, args.RunID, TypeTokenStats)
	if err != nil {
		return err
	}
	if current == hash {
		slog.Info("Token stats unchanged, skipping", "run_id", args.RunID)
		return nil
	}

	result, err := ComputeTokenStats(ctx, args.RunID, transcripts, w.resolver)
	if err != nil {
		return fmt.Errorf("failed to compute token stats: %w", err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode token stats: %w", err)
	}
	if _, err := w.results.Save(ctx, args.RunID, TypeTokenStats, hash, raw); err != nil {
		return err
	}
	slog.Info("Token stats stored", "run_id", args.RunID,
		"input_tokens", result.InputTokens, "output_tokens", result.OutputTokens)
	return nil
}
