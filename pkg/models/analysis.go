package models

import "time"

// AnalysisStatus marks whether an analysis result is the current one for
// its (run, type) pair.
type AnalysisStatus string

// Analysis result statuses. Exactly one result per (run, type) is current.
const (
	AnalysisCurrent    AnalysisStatus = "current"
	AnalysisSuperseded AnalysisStatus = "superseded"
)

// Analysis types produced by the built-in workers.
const (
	AnalysisTypeBasic      = "basic"
	AnalysisTypeTokenStats = "token_stats"
)

// AnalysisResult is an aggregate computed over a run's transcripts.
type AnalysisResult struct {
	ID        string         `db:"analysis_id"`
	RunID     string         `db:"run_id"`
	Type      string         `db:"analysis_type"`
	Status    AnalysisStatus `db:"status"`
	InputHash string         `db:"input_hash"`
	Result    []byte         `db:"result"`
	CreatedAt time.Time      `db:"created_at"`
}
