package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

// RunService owns run rows: creation with scenario selections, the
// progress mutators, and the user-facing pause/resume/cancel transitions.
//
// Progress mutators are single-row read-modify-writes guarded by a
// SELECT ... FOR UPDATE row lock; the application layer never re-implements
// locking on top of that.
type RunService struct {
	db *sqlx.DB
}

// NewRunService creates a new RunService.
func NewRunService(db *sqlx.DB) *RunService {
	return &RunService{db: db}
}

const runColumns = `run_id, definition_id, experiment_id, status, config,
	progress_total, progress_completed, progress_failed,
	summarize_total, summarize_completed, summarize_failed,
	created_by, created_at, started_at, completed_at, last_accessed_at, deleted_at`

// TxFunc runs extra writes inside a mutator's transaction, so a terminal
// record and its counter move commit or roll back together.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// MutationResult is the outcome of one progress increment: the counters
// after the increment and the derived status.
type MutationResult struct {
	RunID     string
	Previous  models.RunStatus
	Status    models.RunStatus
	Progress  models.Progress
	Summarize models.Progress
}

// Transitioned reports whether this increment moved the run's status.
func (m MutationResult) Transitioned() bool { return m.Previous != m.Status }

// EnteredSummarizing reports whether this increment fired RUNNING→SUMMARIZING.
func (m MutationResult) EnteredSummarizing() bool {
	return m.Transitioned() && m.Status == models.RunStatusSummarizing
}

// Completed reports whether this increment terminally completed the run.
func (m MutationResult) Completed() bool {
	return m.Transitioned() && m.Status == models.RunStatusCompleted
}

// GetRun returns a run (including soft-deleted checks) with hydrated counters.
func (s *RunService) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	err := s.db.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	if err := run.HydrateCounters(); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}
	return &run, nil
}

// CreateRunWithSelections writes the run row and its scenario selection
// rows in a single transaction, as required by fan-out atomicity.
func (s *RunService) CreateRunWithSelections(ctx context.Context, run *models.Run, scenarioIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, definition_id, experiment_id, status, config,
			progress_total, progress_completed, progress_failed,
			summarize_total, summarize_completed, summarize_failed,
			created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, 0, 0, $7, $8)`,
		run.ID, run.DefinitionID, run.ExperimentID, run.Status, run.ConfigRaw,
		run.ProgressTotal, run.CreatedBy, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for _, scenarioID := range scenarioIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_scenarios (run_id, scenario_id) VALUES ($1, $2)`,
			run.ID, scenarioID); err != nil {
			return fmt.Errorf("failed to record scenario selection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run creation: %w", err)
	}
	return nil
}

// SelectedScenarioIDs returns the sampled scenario ids of a run.
func (s *RunService) SelectedScenarioIDs(ctx context.Context, runID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT scenario_id FROM run_scenarios WHERE run_id = $1 ORDER BY scenario_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run scenarios: %w", err)
	}
	return ids, nil
}

// IncrementCompleted records one successful probe. record, when non-nil,
// runs inside the same transaction as the counter move.
func (s *RunService) IncrementCompleted(ctx context.Context, runID string, record TxFunc) (*MutationResult, error) {
	return s.increment(ctx, runID, models.EventProbeCompleted, record)
}

// IncrementFailed records one terminally failed probe.
func (s *RunService) IncrementFailed(ctx context.Context, runID string, record TxFunc) (*MutationResult, error) {
	return s.increment(ctx, runID, models.EventProbeFailed, record)
}

// IncrementSummarizeCompleted records one summarized transcript.
func (s *RunService) IncrementSummarizeCompleted(ctx context.Context, runID string, record TxFunc) (*MutationResult, error) {
	return s.increment(ctx, runID, models.EventSummarizeCompleted, record)
}

// IncrementSummarizeFailed records one terminally failed summarization.
func (s *RunService) IncrementSummarizeFailed(ctx context.Context, runID string, record TxFunc) (*MutationResult, error) {
	return s.increment(ctx, runID, models.EventSummarizeFailed, record)
}

// increment applies one progress event under a row lock and derives the
// follow-on status via the state machine. Increments on a terminal run
// still land in the counters but never change the status. The record
// callback runs under the same lock; any failure rolls the whole
// transaction back, so a terminal record can never exist without its
// counter move (and vice versa).
func (s *RunService) increment(ctx context.Context, runID string, event models.ProgressEvent, record TxFunc) (*MutationResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var run models.Run
	err = tx.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1 FOR UPDATE`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock run: %w", err)
	}
	if err := run.HydrateCounters(); err != nil {
		return nil, fmt.Errorf("failed to decode run config: %w", err)
	}

	if record != nil {
		// Returned unwrapped so callers can match sentinel errors.
		if err := record(ctx, tx); err != nil {
			return nil, err
		}
	}

	probe := run.Progress
	summarize := run.Summarize
	switch event {
	case models.EventProbeCompleted:
		probe.Completed++
	case models.EventProbeFailed:
		probe.Failed++
	case models.EventSummarizeCompleted:
		summarize.Completed++
	case models.EventSummarizeFailed:
		summarize.Failed++
	}
	if probe.Completed+probe.Failed > probe.Total {
		return nil, fmt.Errorf("probe progress overflow for run %s: %d+%d > %d",
			runID, probe.Completed, probe.Failed, probe.Total)
	}
	if summarize.Total > 0 && summarize.Completed+summarize.Failed > summarize.Total {
		return nil, fmt.Errorf("summarize progress overflow for run %s", runID)
	}

	next := models.NextStatus(run.Status, event, probe, summarize)

	var startedAt, completedAt *time.Time
	now := time.Now()
	if run.Status == models.RunStatusPending && next == models.RunStatusRunning {
		startedAt = &now
	}
	if next == models.RunStatusSummarizing && run.Status != models.RunStatusSummarizing {
		// summarize.total snapshots the live transcript count at the
		// phase boundary, inside the same transaction.
		var count int
		if err := tx.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM transcripts WHERE run_id = $1 AND deleted_at IS NULL`, runID); err != nil {
			return nil, fmt.Errorf("failed to count transcripts: %w", err)
		}
		summarize.Total = count
		if run.StartedAt == nil {
			startedAt = &now
		}
		if count == 0 {
			// Nothing to summarize (every probe failed terminally).
			next = models.RunStatusCompleted
		}
	}
	if next == models.RunStatusCompleted {
		completedAt = &now
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = $2,
			progress_completed = $3, progress_failed = $4,
			summarize_total = $5, summarize_completed = $6, summarize_failed = $7,
			started_at = COALESCE(started_at, $8),
			completed_at = COALESCE(completed_at, $9)
		 WHERE run_id = $1`,
		runID, next,
		probe.Completed, probe.Failed,
		summarize.Total, summarize.Completed, summarize.Failed,
		startedAt, completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit progress: %w", err)
	}

	return &MutationResult{
		RunID:     runID,
		Previous:  run.Status,
		Status:    next,
		Progress:  probe,
		Summarize: summarize,
	}, nil
}

// Pause suspends a pending, running, or summarizing run. Queued jobs stay
// queued; handlers snooze them until resume.
func (s *RunService) Pause(ctx context.Context, runID string) (*models.Run, error) {
	run, _, err := s.userTransition(ctx, runID, func(run *models.Run) (models.RunStatus, error) {
		switch run.Status {
		case models.RunStatusPending, models.RunStatusRunning, models.RunStatusSummarizing:
			return models.RunStatusPaused, nil
		}
		return "", ErrRunState
	})
	return run, err
}

// Resume moves a paused run back into running or summarizing depending on
// how far its probe phase got. The boolean reports whether this call
// crossed the probe/summarize boundary: the probe phase finished while
// the run was paused, so no summarize fan-out has happened yet and the
// caller owns the follow-up.
func (s *RunService) Resume(ctx context.Context, runID string) (*models.Run, bool, error) {
	return s.userTransition(ctx, runID, func(run *models.Run) (models.RunStatus, error) {
		if run.Status != models.RunStatusPaused {
			return "", ErrRunState
		}
		return models.ResumeTarget(run.Progress), nil
	})
}

// Cancel terminally cancels a non-terminal run. Queued jobs are discarded
// by the handlers' terminal-state short-circuit.
func (s *RunService) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	run, _, err := s.userTransition(ctx, runID, func(run *models.Run) (models.RunStatus, error) {
		if run.Status.IsTerminal() {
			return "", ErrRunState
		}
		return models.RunStatusCancelled, nil
	})
	return run, err
}

// Fail terminally fails a non-terminal run (fan-out errors, unrecoverable
// infrastructure failures).
func (s *RunService) Fail(ctx context.Context, runID string) (*models.Run, error) {
	run, _, err := s.userTransition(ctx, runID, func(run *models.Run) (models.RunStatus, error) {
		if run.Status.IsTerminal() {
			return "", ErrRunState
		}
		return models.RunStatusFailed, nil
	})
	return run, err
}

func (s *RunService) userTransition(ctx context.Context, runID string, decide func(*models.Run) (models.RunStatus, error)) (*models.Run, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var run models.Run
	err = tx.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM runs WHERE run_id = $1 AND deleted_at IS NULL FOR UPDATE`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("failed to lock run: %w", err)
	}
	if err := run.HydrateCounters(); err != nil {
		return nil, false, fmt.Errorf("failed to decode run config: %w", err)
	}

	next, err := decide(&run)
	if err != nil {
		return nil, false, err
	}

	// A run can cross the probe/summarize boundary while paused: the
	// counters keep landing but the status stays put. Resuming into
	// summarizing therefore has to take the summarize.total snapshot here.
	crossed := false
	summarize := run.Summarize
	if next == models.RunStatusSummarizing && summarize.Total == 0 {
		crossed = true
		var count int
		if err := tx.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM transcripts WHERE run_id = $1 AND deleted_at IS NULL`, runID); err != nil {
			return nil, false, fmt.Errorf("failed to count transcripts: %w", err)
		}
		summarize.Total = count
		if count == 0 {
			next = models.RunStatusCompleted
		}
	}

	var completedAt *time.Time
	if next.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = $2, summarize_total = $3,
			completed_at = COALESCE(completed_at, $4)
		 WHERE run_id = $1`,
		runID, next, summarize.Total, completedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store run status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit run status: %w", err)
	}

	run.Status = next
	run.Summarize = summarize
	run.SummarizeTotal = summarize.Total
	if completedAt != nil && run.CompletedAt == nil {
		run.CompletedAt = completedAt
	}
	return &run, crossed, nil
}

// Status returns just the current status of a run.
func (s *RunService) Status(ctx context.Context, runID string) (models.RunStatus, error) {
	var status models.RunStatus
	err := s.db.GetContext(ctx, &status,
		`SELECT status FROM runs WHERE run_id = $1 AND deleted_at IS NULL`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to query run status: %w", err)
	}
	return status, nil
}

// ListUnfinished returns runs in non-terminal states for recovery scans,
// oldest first.
func (s *RunService) ListUnfinished(ctx context.Context) ([]*models.Run, error) {
	var rows []models.Run
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM runs
		 WHERE status IN ('pending','running','paused','summarizing') AND deleted_at IS NULL
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished runs: %w", err)
	}
	runs := make([]*models.Run, 0, len(rows))
	for i := range rows {
		if err := rows[i].HydrateCounters(); err != nil {
			return nil, fmt.Errorf("failed to decode run config: %w", err)
		}
		runs = append(runs, &rows[i])
	}
	return runs, nil
}

// TouchLastAccessed bumps last_accessed_at; used by read paths feeding
// the retention sweeper. Best-effort.
func (s *RunService) TouchLastAccessed(ctx context.Context, runID string) {
	_, _ = s.db.ExecContext(ctx,
		`UPDATE runs SET last_accessed_at = now() WHERE run_id = $1`, runID)
}

// SoftDeleteTerminalBefore soft-deletes terminal runs not accessed since
// the cutoff, and their transcripts. Returns the number of runs deleted.
func (s *RunService) SoftDeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var runIDs []string
	err = tx.SelectContext(ctx, &runIDs,
		`SELECT run_id FROM runs
		 WHERE status IN ('completed','failed','cancelled')
		   AND deleted_at IS NULL
		   AND COALESCE(last_accessed_at, completed_at, created_at) < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired runs: %w", err)
	}
	if len(runIDs) == 0 {
		return 0, tx.Commit()
	}

	query, args, err := sqlx.In(`UPDATE runs SET deleted_at = now() WHERE run_id IN (?)`, runIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build run delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("failed to soft-delete runs: %w", err)
	}

	query, args, err = sqlx.In(`UPDATE transcripts SET deleted_at = now() WHERE run_id IN (?) AND deleted_at IS NULL`, runIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build transcript delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("failed to soft-delete transcripts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention sweep: %w", err)
	}
	return len(runIDs), nil
}
