// Package ratelimit admits provider-bound LLM calls under three
// constraints at once: a concurrency cap, a per-window request
// reservoir, and a minimum spacing between request starts. Admission
// is strictly FIFO per limiter.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the reservoir refill window. Tests shrink it.
const DefaultWindow = time.Minute

// completionRingSize is how many recent completions each limiter keeps
// for throughput introspection.
const completionRingSize = 10

// ErrLimiterClosed is returned to waiters when their limiter is torn
// down mid-wait (settings reload). The queue redelivers the job.
var ErrLimiterClosed = errors.New("rate limiter closed")

// Limits are the admission parameters of one limiter.
type Limits struct {
	// MaxConcurrent callers may hold an execution slot at once.
	MaxConcurrent int
	// RequestsPerMinute is the reservoir size per window. Zero means the
	// reservoir and spacing constraints are disabled.
	RequestsPerMinute int
}

// JobMeta identifies the work unit for introspection and metrics.
type JobMeta struct {
	JobID      string
	RunID      string
	ScenarioID string
	ModelID    string
}

// CompletionEvent records one finished call.
type CompletionEvent struct {
	JobID      string        `json:"jobId"`
	ModelID    string        `json:"modelId"`
	ScenarioID string        `json:"scenarioId"`
	Duration   time.Duration `json:"durationMs"`
	FinishedAt time.Time     `json:"finishedAt"`
	Failed     bool          `json:"failed"`
}

// Stats is a point-in-time view of one limiter.
type Stats struct {
	Name              string            `json:"name"`
	MaxConcurrent     int               `json:"maxConcurrent"`
	RequestsPerMinute int               `json:"requestsPerMinute"`
	Running           int               `json:"running"`
	Queued            int               `json:"queued"`
	Completed         uint64            `json:"completed"`
	Recent            []CompletionEvent `json:"recent"`
}

type waiter struct {
	ctx   context.Context
	ready chan error
}

// Limiter serializes admission for one provider (or one provider's
// summarization lane). A single dispatcher goroutine pops waiters in
// arrival order and grants slots as the constraints allow, so a starved
// request can never be overtaken by a later one.
type Limiter struct {
	name    string
	limits  Limits
	window  time.Duration
	spacing time.Duration

	pending chan *waiter
	sem     chan struct{}

	mu          sync.Mutex
	tokens      int
	windowStart time.Time
	lastStart   time.Time
	running     int
	queued      int
	completed   uint64
	ring        [completionRingSize]CompletionEvent
	ringLen     int
	ringNext    int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLimiter creates and starts a limiter. window <= 0 selects
// DefaultWindow.
func NewLimiter(name string, limits Limits, window time.Duration) *Limiter {
	if limits.MaxConcurrent < 1 {
		limits.MaxConcurrent = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		name:    name,
		limits:  limits,
		window:  window,
		pending: make(chan *waiter, 1024),
		sem:     make(chan struct{}, limits.MaxConcurrent),
		closed:  make(chan struct{}),
	}
	if limits.RequestsPerMinute > 0 {
		// Minimum gap between starts: the window divided by the budget,
		// rounded up so a full window never admits more than the budget.
		l.spacing = (window + time.Duration(limits.RequestsPerMinute) - 1) / time.Duration(limits.RequestsPerMinute)
		l.tokens = limits.RequestsPerMinute
		l.windowStart = time.Now()
	}
	go l.dispatch()
	return l
}

// Run admits fn under the limiter's constraints, executes it, and
// releases the slot. Blocks in FIFO order until admitted. Returns
// ctx.Err() if the caller gives up waiting and ErrLimiterClosed if the
// limiter is torn down first.
func (l *Limiter) Run(ctx context.Context, meta JobMeta, fn func(context.Context) error) error {
	w := &waiter{ctx: ctx, ready: make(chan error, 1)}

	l.mu.Lock()
	l.queued++
	l.mu.Unlock()
	metricQueued.WithLabelValues(l.name).Inc()

	select {
	case l.pending <- w:
	case <-l.closed:
		l.dropWaiter()
		return ErrLimiterClosed
	case <-ctx.Done():
		l.dropWaiter()
		return ctx.Err()
	}

	if err := <-w.ready; err != nil {
		return err
	}

	start := time.Now()
	err := fn(ctx)
	l.finish(meta, time.Since(start), err != nil)
	return err
}

// Stats snapshots the limiter state, most recent completion first.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{
		Name:              l.name,
		MaxConcurrent:     l.limits.MaxConcurrent,
		RequestsPerMinute: l.limits.RequestsPerMinute,
		Running:           l.running,
		Queued:            l.queued,
		Completed:         l.completed,
		Recent:            make([]CompletionEvent, 0, l.ringLen),
	}
	for i := 0; i < l.ringLen; i++ {
		idx := (l.ringNext - 1 - i + completionRingSize*2) % completionRingSize
		s.Recent = append(s.Recent, l.ring[idx])
	}
	return s
}

// Close tears the limiter down. Queued waiters fail with
// ErrLimiterClosed; in-flight calls run to completion.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *Limiter) dispatch() {
	for {
		var w *waiter
		select {
		case w = <-l.pending:
		case <-l.closed:
			l.drainPending()
			return
		}

		// Callers that stopped waiting are skipped without consuming a
		// token or a slot.
		select {
		case <-w.ctx.Done():
			l.dropWaiter()
			w.ready <- w.ctx.Err()
			continue
		default:
		}

		if err := l.awaitToken(w.ctx); err != nil {
			l.dropWaiter()
			w.ready <- err
			continue
		}
		if err := l.awaitSlot(w.ctx); err != nil {
			l.dropWaiter()
			w.ready <- err
			continue
		}

		l.mu.Lock()
		l.queued--
		l.running++
		l.lastStart = time.Now()
		l.mu.Unlock()
		metricQueued.WithLabelValues(l.name).Dec()
		metricRunning.WithLabelValues(l.name).Inc()
		metricAdmitted.WithLabelValues(l.name).Inc()
		w.ready <- nil
	}
}

// awaitToken blocks until the reservoir and spacing constraints permit
// the next start. The reservoir refills in one step per window.
func (l *Limiter) awaitToken(ctx context.Context) error {
	if l.limits.RequestsPerMinute <= 0 {
		return nil
	}
	for {
		l.mu.Lock()
		now := time.Now()
		if now.Sub(l.windowStart) >= l.window {
			l.tokens = l.limits.RequestsPerMinute
			l.windowStart = now
		}
		var wait time.Duration
		if l.tokens <= 0 {
			wait = l.windowStart.Add(l.window).Sub(now)
		} else if gap := l.lastStart.Add(l.spacing).Sub(now); gap > 0 {
			wait = gap
		} else {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.closed:
			timer.Stop()
			return ErrLimiterClosed
		}
	}
}

func (l *Limiter) awaitSlot(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return ErrLimiterClosed
	}
}

func (l *Limiter) finish(meta JobMeta, d time.Duration, failed bool) {
	<-l.sem

	l.mu.Lock()
	l.running--
	l.completed++
	l.ring[l.ringNext] = CompletionEvent{
		JobID:      meta.JobID,
		ModelID:    meta.ModelID,
		ScenarioID: meta.ScenarioID,
		Duration:   d,
		FinishedAt: time.Now(),
		Failed:     failed,
	}
	l.ringNext = (l.ringNext + 1) % completionRingSize
	if l.ringLen < completionRingSize {
		l.ringLen++
	}
	l.mu.Unlock()

	metricRunning.WithLabelValues(l.name).Dec()
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	metricCompleted.WithLabelValues(l.name, outcome).Inc()
}

func (l *Limiter) dropWaiter() {
	l.mu.Lock()
	l.queued--
	l.mu.Unlock()
	metricQueued.WithLabelValues(l.name).Dec()
}

// drainPending fails everything still queued after Close.
func (l *Limiter) drainPending() {
	for {
		select {
		case w := <-l.pending:
			l.dropWaiter()
			w.ready <- ErrLimiterClosed
		default:
			slog.Debug("Rate limiter drained", "limiter", l.name)
			return
		}
	}
}
