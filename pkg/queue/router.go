package queue

import (
	"context"
	"log/slog"
	"strings"

	"github.com/riverqueue/river"

	"github.com/codemonkeychris/valuerank/pkg/provider"
)

// Queue names. Probe jobs route to a per-provider queue; models with no
// resolvable provider fall through to the shared default.
const (
	QueueProbeDefault = "probe_scenario"
	QueueSummarize    = "summarize_transcript"
	QueueAnalysis     = "analysis"

	probeQueuePrefix = "probe_"
)

// Worker counts for the fixed queues.
const (
	defaultProbeWorkers = 2
	summarizeWorkers    = 8
	analysisWorkers     = 2
)

// Router resolves job types and models to queue names.
type Router struct {
	registry *provider.Registry
}

// NewRouter creates a router over the provider registry.
func NewRouter(registry *provider.Registry) *Router {
	return &Router{registry: registry}
}

// ProbeQueueName is the queue for one provider's probe jobs.
func ProbeQueueName(providerName string) string {
	return probeQueuePrefix + strings.ToLower(providerName)
}

// ProbeQueue returns the queue for a probe job against the given model.
func (r *Router) ProbeQueue(ctx context.Context, modelID string) string {
	res, ok := r.registry.Resolve(ctx, modelID)
	if !ok {
		return QueueProbeDefault
	}
	return ProbeQueueName(res.Provider.Name)
}

// QueueConfigs builds the full queue map for client construction. Each
// provider queue's MaxWorkers is the provider's parallel-request cap,
// which makes queue leasing the primary concurrency floor before the
// in-process limiter engages.
func (r *Router) QueueConfigs(ctx context.Context) map[string]river.QueueConfig {
	configs := map[string]river.QueueConfig{
		QueueProbeDefault: {MaxWorkers: defaultProbeWorkers},
		QueueSummarize:    {MaxWorkers: summarizeWorkers},
		QueueAnalysis:     {MaxWorkers: analysisWorkers},
	}
	for _, p := range r.registry.Providers(ctx) {
		workers := p.MaxParallelRequests
		if workers < 1 {
			workers = 1
		}
		configs[ProbeQueueName(p.Name)] = river.QueueConfig{MaxWorkers: workers}
	}
	return configs
}

// EnsureProviderQueues adds queues for providers that appeared after
// client construction. Idempotent; already-registered queues are left
// alone.
func (r *Router) EnsureProviderQueues(ctx context.Context, client *Client) {
	for _, p := range r.registry.Providers(ctx) {
		name := ProbeQueueName(p.Name)
		workers := p.MaxParallelRequests
		if workers < 1 {
			workers = 1
		}
		if err := client.AddQueue(name, river.QueueConfig{MaxWorkers: workers}); err != nil {
			slog.Debug("Queue already registered", "queue", name, "error", err)
		}
	}
}
