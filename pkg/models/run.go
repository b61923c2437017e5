package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of an evaluation run.
type RunStatus string

// Run status values.
const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusPaused      RunStatus = "paused"
	RunStatusSummarizing RunStatus = "summarizing"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCancelled   RunStatus = "cancelled"
)

// IsTerminal reports whether no further work may advance the run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPaused,
		RunStatusSummarizing, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunPriority is the user-selected priority of a run.
type RunPriority string

// Run priorities.
const (
	PriorityLow    RunPriority = "low"
	PriorityNormal RunPriority = "normal"
	PriorityHigh   RunPriority = "high"
)

// Valid reports whether p is a known priority.
func (p RunPriority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// PayloadValue returns the numeric priority carried in job payloads
// (10 low, 5 normal, 0 high — lower is more urgent).
func (p RunPriority) PayloadValue() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 10
	default:
		return 5
	}
}

// Progress is a {total, completed, failed} counter tuple. The probe phase
// and the summarize phase each own one.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Done reports whether every attempt has reached a terminal outcome.
func (p Progress) Done() bool {
	return p.Total > 0 && p.Completed+p.Failed >= p.Total
}

// RunConfig is the immutable configuration snapshot taken at StartRun.
type RunConfig struct {
	Models             []string        `json:"models"`
	SamplePercentage   int             `json:"sample_percentage"`
	SampleSeed         *int64          `json:"sample_seed,omitempty"`
	Priority           RunPriority     `json:"priority"`
	Temperature        float64         `json:"temperature"`
	MaxTurns           int             `json:"max_turns"`
	DefinitionSnapshot json.RawMessage `json:"definition_snapshot,omitempty"`
	EstimatedCostUSD   float64         `json:"estimated_cost_usd"`
}

// Run is one evaluation execution of a Definition against a set of models.
type Run struct {
	ID           string     `db:"run_id"`
	DefinitionID string     `db:"definition_id"`
	ExperimentID *string    `db:"experiment_id"`
	Status       RunStatus  `db:"status"`
	Config       RunConfig  `db:"-"`
	ConfigRaw    []byte     `db:"config"`
	Progress     Progress   `db:"-"`
	Summarize    Progress   `db:"-"`
	CreatedBy    *string    `db:"created_by"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	LastAccessAt *time.Time `db:"last_accessed_at"`
	DeletedAt    *time.Time `db:"deleted_at"`

	// Flattened counter columns.
	ProgressTotal      int `db:"progress_total"`
	ProgressCompleted  int `db:"progress_completed"`
	ProgressFailed     int `db:"progress_failed"`
	SummarizeTotal     int `db:"summarize_total"`
	SummarizeCompleted int `db:"summarize_completed"`
	SummarizeFailed    int `db:"summarize_failed"`
}

// HydrateCounters copies the flattened DB columns into the Progress tuples
// and decodes the config snapshot.
func (r *Run) HydrateCounters() error {
	r.Progress = Progress{Total: r.ProgressTotal, Completed: r.ProgressCompleted, Failed: r.ProgressFailed}
	r.Summarize = Progress{Total: r.SummarizeTotal, Completed: r.SummarizeCompleted, Failed: r.SummarizeFailed}
	if len(r.ConfigRaw) > 0 {
		return json.Unmarshal(r.ConfigRaw, &r.Config)
	}
	return nil
}

// ProgressEvent is one observed probe or summarize outcome fed to the
// run state machine.
type ProgressEvent int

// Progress events.
const (
	EventProbeCompleted ProgressEvent = iota
	EventProbeFailed
	EventSummarizeCompleted
	EventSummarizeFailed
)

// IsSummarize reports whether the event belongs to the summarize phase.
func (e ProgressEvent) IsSummarize() bool {
	return e == EventSummarizeCompleted || e == EventSummarizeFailed
}

// NextStatus derives the status that follows one progress event. probe and
// summarize are the counters AFTER the increment has been applied.
//
// Transitions:
//
//	pending     → running      on the first terminal probe outcome
//	running     → summarizing  when probe.completed+failed == probe.total
//	summarizing → completed    when summarize.completed+failed == summarize.total
//
// Terminal and paused statuses never change here: cancellation wins over
// in-flight increments, and paused runs only move via user resume.
func NextStatus(current RunStatus, event ProgressEvent, probe, summarize Progress) RunStatus {
	if current.IsTerminal() || current == RunStatusPaused {
		return current
	}

	switch current {
	case RunStatusPending, RunStatusRunning:
		if event.IsSummarize() {
			return current
		}
		if probe.Done() {
			return RunStatusSummarizing
		}
		return RunStatusRunning
	case RunStatusSummarizing:
		if event.IsSummarize() && summarize.Done() {
			return RunStatusCompleted
		}
		return RunStatusSummarizing
	}
	return current
}

// ResumeTarget returns the status a paused run resumes into: summarizing if
// every probe attempt already reached a terminal outcome, running otherwise.
func ResumeTarget(probe Progress) RunStatus {
	if probe.Done() {
		return RunStatusSummarizing
	}
	return RunStatusRunning
}
