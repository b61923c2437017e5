// Package producer defines the contract with the external LLM worker
// processes: the transcript producer (probe calls) and the summary
// producer (decision extraction).
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// ScenarioInput is the rendered scenario handed to the transcript
// producer.
type ScenarioInput struct {
	Preamble  string   `json:"preamble"`
	Prompt    string   `json:"prompt"`
	Followups []string `json:"followups"`
}

// ProbeConfig carries the per-run sampling parameters.
type ProbeConfig struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	MaxTurns    int     `json:"maxTurns"`
}

// ProbeRequest is the transcript producer input.
type ProbeRequest struct {
	RunID      string        `json:"runId"`
	ScenarioID string        `json:"scenarioId"`
	ModelID    string        `json:"modelId"`
	Scenario   ScenarioInput `json:"scenario"`
	Config     ProbeConfig   `json:"config"`
	ModelCost  *float64      `json:"modelCost,omitempty"`
}

// Error is the structured failure shape both producers emit. Retryable
// is a pointer because older producers omit it; absent defers to the
// message-based classifier.
type Error struct {
	Message   string          `json:"message"`
	Code      string          `json:"code"`
	Retryable *bool           `json:"retryable"`
	Details   json.RawMessage `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// ProbeResponse is the transcript producer output. Exactly one of
// Transcript and Err is set.
type ProbeResponse struct {
	Success    bool                      `json:"success"`
	Transcript *models.TranscriptContent `json:"transcript,omitempty"`
	Err        *Error                    `json:"error,omitempty"`
}

// Summary is the decision extracted from a transcript.
type Summary struct {
	DecisionCode string `json:"decisionCode"`
	DecisionText string `json:"decisionText"`
}

// SummaryRequest is the summary producer input.
type SummaryRequest struct {
	TranscriptID      string                   `json:"transcriptId"`
	ModelID           string                   `json:"modelId"`
	TranscriptContent models.TranscriptContent `json:"transcriptContent"`
}

// SummaryResponse is the summary producer output.
type SummaryResponse struct {
	Success bool     `json:"success"`
	Summary *Summary `json:"summary,omitempty"`
	Err     *Error   `json:"error,omitempty"`
}

// TranscriptProducer runs one probe conversation against a model.
type TranscriptProducer interface {
	Probe(ctx context.Context, req *ProbeRequest) (*ProbeResponse, error)
}

// SummaryProducer reduces a transcript to a decision.
type SummaryProducer interface {
	Summarize(ctx context.Context, req *SummaryRequest) (*SummaryResponse, error)
}
