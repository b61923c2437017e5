package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	mu      sync.Mutex
	cutoffs []time.Time
	count   int
	err     error
}

func (f *fakeSweeper) SoftDeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.count, f.err
}

func (f *fakeSweeper) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestServiceSweepsOnStartAndInterval(t *testing.T) {
	sweeper := &fakeSweeper{count: 2}
	svc := NewService(sweeper, 90, 20*time.Millisecond)

	svc.Start(context.Background())
	defer svc.Stop()

	// Initial sweep runs immediately.
	require.Eventually(t, func() bool { return sweeper.calls() >= 1 }, time.Second, 5*time.Millisecond)

	// And again on the ticker.
	require.Eventually(t, func() bool { return sweeper.calls() >= 2 }, time.Second, 5*time.Millisecond)

	sweeper.mu.Lock()
	cutoff := sweeper.cutoffs[0]
	sweeper.mu.Unlock()
	expected := time.Now().AddDate(0, 0, -90)
	assert.WithinDuration(t, expected, cutoff, time.Minute)
}

func TestServiceStopHaltsSweeps(t *testing.T) {
	sweeper := &fakeSweeper{}
	svc := NewService(sweeper, 30, time.Hour)

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return sweeper.calls() == 1 }, time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
	calls := sweeper.calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, sweeper.calls())
}

func TestServiceKeepsSweepingAfterErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("database unavailable")}
	svc := NewService(sweeper, 90, 10*time.Millisecond)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return sweeper.calls() >= 3 }, time.Second, 5*time.Millisecond)
}
