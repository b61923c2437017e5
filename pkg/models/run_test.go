package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextStatus_ProbePhase(t *testing.T) {
	// First probe outcome moves pending into running.
	got := NextStatus(RunStatusPending, EventProbeCompleted, Progress{Total: 4, Completed: 1}, Progress{})
	assert.Equal(t, RunStatusRunning, got)

	// Mid-phase outcomes keep running.
	got = NextStatus(RunStatusRunning, EventProbeFailed, Progress{Total: 4, Completed: 1, Failed: 1}, Progress{})
	assert.Equal(t, RunStatusRunning, got)

	// The last probe outcome crosses into summarizing, mixed outcomes
	// included.
	got = NextStatus(RunStatusRunning, EventProbeFailed, Progress{Total: 4, Completed: 3, Failed: 1}, Progress{})
	assert.Equal(t, RunStatusSummarizing, got)

	got = NextStatus(RunStatusRunning, EventProbeCompleted, Progress{Total: 4, Completed: 4}, Progress{})
	assert.Equal(t, RunStatusSummarizing, got)
}

func TestNextStatus_SummarizePhase(t *testing.T) {
	got := NextStatus(RunStatusSummarizing, EventSummarizeCompleted, Progress{Total: 4, Completed: 4}, Progress{Total: 4, Completed: 2})
	assert.Equal(t, RunStatusSummarizing, got)

	got = NextStatus(RunStatusSummarizing, EventSummarizeCompleted, Progress{Total: 4, Completed: 4}, Progress{Total: 4, Completed: 3, Failed: 1})
	assert.Equal(t, RunStatusCompleted, got)

	// A late probe event never completes a summarizing run.
	got = NextStatus(RunStatusSummarizing, EventProbeCompleted, Progress{Total: 4, Completed: 4}, Progress{Total: 4, Completed: 4})
	assert.Equal(t, RunStatusSummarizing, got)
}

func TestNextStatus_TerminalAndPausedAreSticky(t *testing.T) {
	full := Progress{Total: 1, Completed: 1}
	for _, status := range []RunStatus{RunStatusCancelled, RunStatusFailed, RunStatusCompleted, RunStatusPaused} {
		got := NextStatus(status, EventProbeCompleted, full, full)
		assert.Equal(t, status, got, "status %s must not move on increments", status)
	}
}

func TestResumeTarget(t *testing.T) {
	assert.Equal(t, RunStatusRunning, ResumeTarget(Progress{Total: 4, Completed: 2}))
	assert.Equal(t, RunStatusSummarizing, ResumeTarget(Progress{Total: 4, Completed: 3, Failed: 1}))
}

func TestProgressDone(t *testing.T) {
	assert.False(t, Progress{}.Done())
	assert.False(t, Progress{Total: 2, Completed: 1}.Done())
	assert.True(t, Progress{Total: 2, Completed: 1, Failed: 1}.Done())
}

func TestRunPriorityPayloadValue(t *testing.T) {
	assert.Equal(t, 0, PriorityHigh.PayloadValue())
	assert.Equal(t, 5, PriorityNormal.PayloadValue())
	assert.Equal(t, 10, PriorityLow.PayloadValue())
}
