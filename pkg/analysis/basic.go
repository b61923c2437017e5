package analysis

import (
	"sort"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// Analysis type names as stored in analysis_results.
const (
	TypeBasic      = "basic"
	TypeTokenStats = "token_stats"
)

// ModelDistribution is one model's decision breakdown.
type ModelDistribution struct {
	ModelID     string         `json:"modelId"`
	Total       int            `json:"total"`
	Summarized  int            `json:"summarized"`
	Decisions   map[string]int `json:"decisions"`
	TopDecision string         `json:"topDecision,omitempty"`
}

// BasicResult is the decision-code distribution per model.
type BasicResult struct {
	RunID           string              `json:"runId"`
	TranscriptCount int                 `json:"transcriptCount"`
	Models          []ModelDistribution `json:"models"`
}

// ComputeBasic aggregates decision codes per model. Transcripts without
// a decision count toward Total but not Summarized.
func ComputeBasic(runID string, transcripts []*models.Transcript) *BasicResult {
	byModel := make(map[string]*ModelDistribution)
	for _, t := range transcripts {
		dist := byModel[t.ModelID]
		if dist == nil {
			dist = &ModelDistribution{ModelID: t.ModelID, Decisions: make(map[string]int)}
			byModel[t.ModelID] = dist
		}
		dist.Total++
		if t.DecisionCode == nil || *t.DecisionCode == "" {
			continue
		}
		dist.Summarized++
		dist.Decisions[*t.DecisionCode]++
	}

	out := &BasicResult{RunID: runID, TranscriptCount: len(transcripts)}
	for _, dist := range byModel {
		top, best := "", 0
		for code, n := range dist.Decisions {
			if n > best || (n == best && code < top) {
				top, best = code, n
			}
		}
		dist.TopDecision = top
		out.Models = append(out.Models, *dist)
	}
	sort.Slice(out.Models, func(i, j int) bool { return out.Models[i].ModelID < out.Models[j].ModelID })
	return out
}
