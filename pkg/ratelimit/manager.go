package ratelimit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// summarizeSuffix marks the per-provider summarization lane, which has
// its own concurrency budget so long probe backlogs cannot starve
// summarization (and vice versa).
const summarizeSuffix = ":summarize"

// DefaultLimits applies when a provider has no configured limits.
var DefaultLimits = Limits{MaxConcurrent: 2}

// LimitsFunc resolves a provider name to its limits. ok=false selects
// DefaultLimits.
type LimitsFunc func(ctx context.Context, provider string) (Limits, bool)

// Manager owns one limiter per provider plus one per provider
// summarization lane, created lazily on first use.
type Manager struct {
	lookup LimitsFunc
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewManager creates a manager. window <= 0 selects DefaultWindow.
func NewManager(lookup LimitsFunc, window time.Duration) *Manager {
	return &Manager{
		lookup:   lookup,
		window:   window,
		limiters: make(map[string]*Limiter),
	}
}

// Run admits fn under the provider's probe limiter.
func (m *Manager) Run(ctx context.Context, provider string, meta JobMeta, fn func(context.Context) error) error {
	limits, ok := m.lookup(ctx, provider)
	if !ok {
		limits = DefaultLimits
	}
	return m.limiter(provider, limits).Run(ctx, meta, fn)
}

// RunSummarize admits fn under the provider's summarization lane. The
// lane's concurrency is the larger of the provider cap and the
// configured override; the request budget is the provider's.
func (m *Manager) RunSummarize(ctx context.Context, provider string, concurrencyOverride int, meta JobMeta, fn func(context.Context) error) error {
	limits, ok := m.lookup(ctx, provider)
	if !ok {
		limits = DefaultLimits
	}
	if concurrencyOverride > limits.MaxConcurrent {
		limits.MaxConcurrent = concurrencyOverride
	}
	return m.limiter(provider+summarizeSuffix, limits).Run(ctx, meta, fn)
}

// Reload closes every limiter so the next call rebuilds them with fresh
// limits. Queued waiters fail and their jobs are redelivered.
func (m *Manager) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, l := range m.limiters {
		l.Close()
		delete(m.limiters, name)
	}
}

// ReloadSummarize closes only the summarization lanes, for when the
// summarization concurrency setting changes.
func (m *Manager) ReloadSummarize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, l := range m.limiters {
		if strings.HasSuffix(name, summarizeSuffix) {
			l.Close()
			delete(m.limiters, name)
		}
	}
}

// Stats snapshots all live limiters, sorted by name.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	ls := make([]*Limiter, 0, len(m.limiters))
	for _, l := range m.limiters {
		ls = append(ls, l)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close tears down all limiters.
func (m *Manager) Close() {
	m.Reload()
}

func (m *Manager) limiter(name string, limits Limits) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[name]; ok {
		return l
	}
	l := NewLimiter(name, limits, m.window)
	m.limiters[name] = l
	return l
}

// ETA estimates how long the queued work will take, from observed
// completion durations and the concurrency cap. Zero when the limiter
// is idle or has no history yet.
func (s Stats) ETA() time.Duration {
	if s.Queued == 0 || len(s.Recent) == 0 {
		return 0
	}
	var total time.Duration
	for _, e := range s.Recent {
		total += e.Duration
	}
	avg := total / time.Duration(len(s.Recent))
	waves := (s.Queued + s.MaxConcurrent - 1) / s.MaxConcurrent
	return avg * time.Duration(waves)
}
