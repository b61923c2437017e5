package analysis

import (
	"context"
	"sort"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/provider"
)

// ModelTokenStats is one model's token usage across a run.
type ModelTokenStats struct {
	ModelID      string  `json:"modelId"`
	Transcripts  int     `json:"transcripts"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// TokenStatsResult aggregates token usage and actual cost per model.
type TokenStatsResult struct {
	RunID        string            `json:"runId"`
	InputTokens  int               `json:"inputTokens"`
	OutputTokens int               `json:"outputTokens"`
	CostUSD      float64           `json:"costUsd"`
	Models       []ModelTokenStats `json:"models"`
}

// CostResolver maps a model id to its pricing. Unknown models cost zero.
type CostResolver interface {
	Resolve(ctx context.Context, modelID string) (provider.Resolution, bool)
}

// ComputeTokenStats sums transcript token counters per model and prices
// them with current model costs.
func ComputeTokenStats(ctx context.Context, runID string, transcripts []*models.Transcript, resolver CostResolver) (*TokenStatsResult, error) {
	byModel := make(map[string]*ModelTokenStats)
	for _, t := range transcripts {
		if err := t.HydrateContent(); err != nil {
			return nil, err
		}
		stats := byModel[t.ModelID]
		if stats == nil {
			stats = &ModelTokenStats{ModelID: t.ModelID}
			byModel[t.ModelID] = stats
		}
		stats.Transcripts++
		stats.InputTokens += t.Content.TotalInputTokens
		stats.OutputTokens += t.Content.TotalOutputTokens
	}

	out := &TokenStatsResult{RunID: runID}
	for _, stats := range byModel {
		if res, ok := resolver.Resolve(ctx, stats.ModelID); ok {
			stats.CostUSD = float64(stats.InputTokens+stats.OutputTokens) * res.Model.CostPerMTokensUSD / 1e6
		}
		out.InputTokens += stats.InputTokens
		out.OutputTokens += stats.OutputTokens
		out.CostUSD += stats.CostUSD
		out.Models = append(out.Models, *stats)
	}
	sort.Slice(out.Models, func(i, j int) bool { return out.Models[i].ModelID < out.Models[j].ModelID })
	return out, nil
}
