package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_ConcurrencyBound(t *testing.T) {
	l := NewLimiter("test", Limits{MaxConcurrent: 2}, time.Second)
	defer l.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Run(context.Background(), JobMeta{}, func(ctx context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, uint64(8), l.Stats().Completed)
}

func TestLimiter_ReservoirRefillsOncePerWindow(t *testing.T) {
	window := 300 * time.Millisecond
	l := NewLimiter("test", Limits{MaxConcurrent: 10, RequestsPerMinute: 2}, window)
	defer l.Close()

	start := time.Now()
	starts := make([]time.Duration, 0, 3)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(context.Background(), JobMeta{}, func(ctx context.Context) error {
				mu.Lock()
				starts = append(starts, time.Since(start))
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, starts, 3)
	// Two requests fit the first window; the third waits for the refill.
	assert.Less(t, starts[1], window)
	assert.GreaterOrEqual(t, starts[2], window)
}

func TestLimiter_SpacingBetweenStarts(t *testing.T) {
	// 4 per 400ms window: starts must be at least 100ms apart.
	window := 400 * time.Millisecond
	l := NewLimiter("test", Limits{MaxConcurrent: 10, RequestsPerMinute: 4}, window)
	defer l.Close()

	start := time.Now()
	starts := make([]time.Duration, 0, 3)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(context.Background(), JobMeta{}, func(ctx context.Context) error {
				mu.Lock()
				starts = append(starts, time.Since(start))
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, starts, 3)
	gap := window / 4
	assert.GreaterOrEqual(t, starts[1]-starts[0], gap-5*time.Millisecond)
	assert.GreaterOrEqual(t, starts[2]-starts[1], gap-5*time.Millisecond)
}

func TestLimiter_FIFOOrder(t *testing.T) {
	// Concurrency 1 forces strictly sequential starts in arrival order.
	l := NewLimiter("test", Limits{MaxConcurrent: 1}, time.Second)
	defer l.Close()

	var mu sync.Mutex
	order := make([]int, 0, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = l.Run(context.Background(), JobMeta{}, func(ctx context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}(i)
		// Stagger submissions so arrival order is deterministic.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLimiter_CloseFailsQueuedWaiters(t *testing.T) {
	l := NewLimiter("test", Limits{MaxConcurrent: 1}, time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Run(context.Background(), JobMeta{}, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	errs := make(chan error, 1)
	go func() {
		errs <- l.Run(context.Background(), JobMeta{}, func(ctx context.Context) error { return nil })
	}()
	// Give the waiter time to queue behind the held slot.
	time.Sleep(20 * time.Millisecond)

	l.Close()
	assert.ErrorIs(t, <-errs, ErrLimiterClosed)
	close(release)
}

func TestLimiter_ContextCancelWhileQueued(t *testing.T) {
	l := NewLimiter("test", Limits{MaxConcurrent: 1}, time.Second)
	defer l.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Run(context.Background(), JobMeta{}, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.Run(ctx, JobMeta{}, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestLimiter_StatsRing(t *testing.T) {
	l := NewLimiter("test", Limits{MaxConcurrent: 4}, time.Second)
	defer l.Close()

	for i := 0; i < 12; i++ {
		meta := JobMeta{JobID: "job", ModelID: "m", ScenarioID: "s"}
		_ = l.Run(context.Background(), meta, func(ctx context.Context) error { return nil })
	}

	s := l.Stats()
	assert.Equal(t, uint64(12), s.Completed)
	assert.Len(t, s.Recent, completionRingSize)
	assert.Equal(t, 0, s.Running)
	assert.Equal(t, 0, s.Queued)
}

func TestManager_SummarizeLaneIsSeparate(t *testing.T) {
	lookup := func(ctx context.Context, provider string) (Limits, bool) {
		return Limits{MaxConcurrent: 1}, true
	}
	m := NewManager(lookup, time.Second)
	defer m.Close()

	require.NoError(t, m.Run(context.Background(), "openai", JobMeta{}, func(ctx context.Context) error { return nil }))
	require.NoError(t, m.RunSummarize(context.Background(), "openai", 5, JobMeta{}, func(ctx context.Context) error { return nil }))

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "openai", stats[0].Name)
	assert.Equal(t, 1, stats[0].MaxConcurrent)
	assert.Equal(t, "openai:summarize", stats[1].Name)
	// Override raises the lane's concurrency above the provider cap.
	assert.Equal(t, 5, stats[1].MaxConcurrent)
}

func TestManager_UnknownProviderGetsDefaults(t *testing.T) {
	lookup := func(ctx context.Context, provider string) (Limits, bool) { return Limits{}, false }
	m := NewManager(lookup, time.Second)
	defer m.Close()

	require.NoError(t, m.Run(context.Background(), "mystery", JobMeta{}, func(ctx context.Context) error { return nil }))
	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, DefaultLimits.MaxConcurrent, stats[0].MaxConcurrent)
}

func TestManager_ReloadDropsLimiters(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, provider string) (Limits, bool) {
		calls++
		return Limits{MaxConcurrent: calls}, true
	}
	m := NewManager(lookup, time.Second)
	defer m.Close()

	require.NoError(t, m.Run(context.Background(), "p", JobMeta{}, func(ctx context.Context) error { return nil }))
	m.Reload()
	assert.Empty(t, m.Stats())

	// Rebuilt with freshly resolved limits.
	require.NoError(t, m.Run(context.Background(), "p", JobMeta{}, func(ctx context.Context) error { return nil }))
	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].MaxConcurrent)
}

func TestStats_ETA(t *testing.T) {
	s := Stats{
		Queued:        10,
		MaxConcurrent: 3,
		Recent: []CompletionEvent{
			{Duration: 2 * time.Second},
			{Duration: 4 * time.Second},
		},
	}
	// avg 3s, ceil(10/3)=4 waves.
	assert.Equal(t, 12*time.Second, s.ETA())

	assert.Zero(t, Stats{Queued: 5, MaxConcurrent: 1}.ETA())
	assert.Zero(t, Stats{MaxConcurrent: 1, Recent: []CompletionEvent{{Duration: time.Second}}}.ETA())
}
