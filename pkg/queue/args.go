// Package queue holds the durable-queue integration: job argument
// types, provider-aware routing, the probe and summarize workers, and
// queue introspection.
package queue

import (
	"github.com/riverqueue/river"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// retryLimit is the number of retries after the first attempt; the
// queue's MaxAttempts counts the first attempt too.
const (
	retryLimit  = 3
	maxAttempts = retryLimit + 1
)

// ProbeJobConfig is the per-run sampling config carried in probe
// payloads.
type ProbeJobConfig struct {
	Temperature float64 `json:"temperature"`
	MaxTurns    int     `json:"maxTurns"`
}

// ProbeArgs is the payload of one probe job: call one model with one
// scenario under one run.
type ProbeArgs struct {
	RunID      string         `json:"runId"`
	ScenarioID string         `json:"scenarioId"`
	ModelID    string         `json:"modelId"`
	Config     ProbeJobConfig `json:"config"`
}

func (ProbeArgs) Kind() string { return "probe_scenario" }

func (ProbeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueProbeDefault,
		MaxAttempts: maxAttempts,
	}
}

// SummarizeArgs is the payload of one summarize job: reduce one
// transcript to a decision. SummaryModelID overrides the configured
// infra summarizer when set.
type SummarizeArgs struct {
	RunID          string  `json:"runId"`
	TranscriptID   string  `json:"transcriptId"`
	SummaryModelID *string `json:"summaryModelId,omitempty"`
}

func (SummarizeArgs) Kind() string { return "summarize_transcript" }

func (SummarizeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueSummarize,
		MaxAttempts: maxAttempts,
	}
}

// TokenStatsArgs triggers the token-statistics aggregation for a run.
// Unique by args so concurrent triggers collapse to one job per run.
type TokenStatsArgs struct {
	RunID string `json:"runId" river:"unique"`
}

func (TokenStatsArgs) Kind() string { return "compute_token_stats" }

func (TokenStatsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAnalysis,
		MaxAttempts: maxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// AnalyzeArgs triggers the basic decision-distribution analysis.
type AnalyzeArgs struct {
	RunID         string   `json:"runId"`
	TranscriptIDs []string `json:"transcriptIds"`
	Force         bool     `json:"force,omitempty"`
}

func (AnalyzeArgs) Kind() string { return "analyze_basic" }

func (AnalyzeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAnalysis,
		MaxAttempts: maxAttempts,
	}
}

// RiverPriority maps a run priority to the queue's 1..4 scale (1 is
// most urgent).
func RiverPriority(p models.RunPriority) int {
	switch p {
	case models.PriorityHigh:
		return 1
	case models.PriorityLow:
		return 3
	default:
		return 2
	}
}
