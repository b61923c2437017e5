package models

import (
	"encoding/json"
	"time"
)

// TranscriptTurn is one exchange in a probe conversation.
type TranscriptTurn struct {
	Role         string `json:"role"` // "user" or "assistant"
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// TranscriptContent is the bit-exact transcript shape produced by the
// transcript producer.
type TranscriptContent struct {
	Turns             []TranscriptTurn `json:"turns"`
	TotalInputTokens  int              `json:"totalInputTokens"`
	TotalOutputTokens int              `json:"totalOutputTokens"`
	StartedAt         time.Time        `json:"startedAt"`
	CompletedAt       time.Time        `json:"completedAt"`
}

// Transcript is one (run, scenario, model) attempt's output. Created by the
// probe handler, mutated exactly once by the summarize handler.
type Transcript struct {
	ID           string            `db:"transcript_id"`
	RunID        string            `db:"run_id"`
	ScenarioID   string            `db:"scenario_id"`
	ModelID      string            `db:"model_id"`
	ModelVersion string            `db:"model_version"`
	Content      TranscriptContent `db:"-"`
	ContentRaw   []byte            `db:"content"`
	DecisionCode *string           `db:"decision_code"`
	DecisionText *string           `db:"decision_text"`
	SummarizedAt *time.Time        `db:"summarized_at"`
	DefSnapshot  []byte            `db:"definition_snapshot"`
	CreatedAt    time.Time         `db:"created_at"`
	DeletedAt    *time.Time        `db:"deleted_at"`
}

// HydrateContent decodes the stored transcript JSON.
func (t *Transcript) HydrateContent() error {
	if len(t.ContentRaw) == 0 {
		return nil
	}
	return json.Unmarshal(t.ContentRaw, &t.Content)
}

// ProbeResultStatus is the terminal outcome of one probe attempt.
type ProbeResultStatus string

// Probe result outcomes.
const (
	ProbeResultSuccess ProbeResultStatus = "success"
	ProbeResultFailed  ProbeResultStatus = "failed"
)

// ProbeResult is the append-only terminal record of one probe attempt. It
// exists independent of the queue so queue retention cannot erase history.
type ProbeResult struct {
	ID           string            `db:"probe_result_id"`
	RunID        string            `db:"run_id"`
	ScenarioID   string            `db:"scenario_id"`
	ModelID      string            `db:"model_id"`
	Status       ProbeResultStatus `db:"status"`
	TranscriptID *string           `db:"transcript_id"`
	ErrorCode    *string           `db:"error_code"`
	ErrorMessage *string           `db:"error_message"`
	RetryCount   int               `db:"retry_count"`
	DurationMs   int64             `db:"duration_ms"`
	InputTokens  int               `db:"input_tokens"`
	OutputTokens int               `db:"output_tokens"`
	CreatedAt    time.Time         `db:"created_at"`
}
