// valuerank server — provides the HTTP API, runs the durable queue
// workers, and orchestrates evaluation runs end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/riverqueue/river"

	"github.com/codemonkeychris/valuerank/pkg/analysis"
	"github.com/codemonkeychris/valuerank/pkg/api"
	"github.com/codemonkeychris/valuerank/pkg/cleanup"
	"github.com/codemonkeychris/valuerank/pkg/config"
	"github.com/codemonkeychris/valuerank/pkg/database"
	"github.com/codemonkeychris/valuerank/pkg/producer"
	"github.com/codemonkeychris/valuerank/pkg/provider"
	"github.com/codemonkeychris/valuerank/pkg/queue"
	"github.com/codemonkeychris/valuerank/pkg/ratelimit"
	"github.com/codemonkeychris/valuerank/pkg/run"
	"github.com/codemonkeychris/valuerank/pkg/services"
	"github.com/codemonkeychris/valuerank/pkg/version"
)

// reloader drops the caches that settings and provider changes
// invalidate. Queued limiter waiters fail and their jobs are
// redelivered under the fresh limits.
type reloader struct {
	registry *provider.Registry
	limiters *ratelimit.Manager
	router   *queue.Router
	client   *queue.Client
}

func (r *reloader) Reload(ctx context.Context) {
	r.registry.ClearCache()
	r.limiters.Reload()
	r.router.EnsureProviderQueues(ctx, r.client)
	slog.Info("Caches and limiters reloaded")
}

func (r *reloader) ReloadSummarize(ctx context.Context) {
	r.limiters.ReloadSummarize()
	slog.Info("Summarize limiters reloaded")
}

func main() {
	// Load .env when present; a missing file is normal outside dev.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	cfg := config.LoadFromEnv()

	slog.Info("Starting valuerank",
		"version", version.Full(),
		"port", cfg.Port,
		"probe_producer", cfg.ProbeProducerURL)

	ctx := context.Background()

	// 1. Database: connect and apply schema migrations.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Queue schema migrations (separate from the app schema).
	if err := queue.Migrate(ctx, dbClient.Pool()); err != nil {
		slog.Error("Failed to migrate queue schema", "error", err)
		os.Exit(1)
	}

	// 3. Domain services over the shared sqlx handle.
	definitionService := services.NewDefinitionService(dbClient.DB())
	runService := services.NewRunService(dbClient.DB())
	transcriptService := services.NewTranscriptService(dbClient.DB())
	probeResultService := services.NewProbeResultService(dbClient.DB())
	analysisService := services.NewAnalysisService(dbClient.DB())
	settingsService := services.NewSettingsService(dbClient.DB())
	providerService := services.NewProviderService(dbClient.DB())
	slog.Info("Services initialized")

	// 4. Provider registry, rate limiters, and queue routing.
	registry := provider.NewRegistry(providerService, provider.DefaultTTL)
	limiters := ratelimit.NewManager(func(ctx context.Context, name string) (ratelimit.Limits, bool) {
		p, ok := registry.ProviderLimits(ctx, name)
		if !ok {
			return ratelimit.Limits{}, false
		}
		return ratelimit.Limits{
			MaxConcurrent:     p.MaxParallelRequests,
			RequestsPerMinute: p.RequestsPerMinute,
		}, true
	}, ratelimit.DefaultWindow)
	defer limiters.Close()
	router := queue.NewRouter(registry)

	// 5. Producers for the external transcript and summary services.
	probeProducer := producer.NewHTTPProducer(cfg.ProbeProducerURL, cfg.ProducerTimeout)
	summaryProducer := producer.NewHTTPProducer(cfg.SummaryProducerURL, cfg.ProducerTimeout)

	// 6. Queue client. Workers are registered below, before Start: the
	// controller is both the workers' phase observer and a client user,
	// so the client must exist first.
	workers := river.NewWorkers()
	queueClient, err := queue.NewClient(dbClient.Pool(), workers, router.QueueConfigs(ctx))
	if err != nil {
		slog.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}

	controller := run.NewController(
		definitionService, runService, transcriptService,
		registry, router, queueClient,
	)

	river.AddWorker(workers, queue.NewProbeWorker(
		runService, definitionService, transcriptService, probeResultService,
		registry, limiters, probeProducer, controller,
	))
	river.AddWorker(workers, queue.NewSummarizeWorker(
		runService, transcriptService, registry, limiters, settingsService,
		summaryProducer, controller,
	))
	river.AddWorker(workers, analysis.NewBasicWorker(transcriptService, analysisService))
	river.AddWorker(workers, analysis.NewTokenStatsWorker(transcriptService, analysisService, registry))

	if err := queueClient.Start(ctx); err != nil {
		slog.Error("Failed to start queue client", "error", err)
		os.Exit(1)
	}
	slog.Info("Queue workers started")

	// 7. Recovery scheduler: startup scan plus periodic rescans.
	introspection := queue.NewIntrospection(queueClient)
	scheduler := run.NewScheduler(
		controller, runService, transcriptService, probeResultService,
		introspection, cfg.RecoveryInterval,
	)
	scheduler.Start(ctx)

	// 8. Retention sweeper.
	cleanupService := cleanup.NewService(runService, cfg.RetentionDays, cfg.RetentionInterval)
	cleanupService.Start(ctx)

	// 9. HTTP server.
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewServer(
			controller, transcriptService, probeResultService, analysisService,
			introspection, limiters, settingsService,
			&reloader{registry: registry, limiters: limiters, router: router, client: queueClient},
			func(ctx context.Context) (database.HealthStatus, error) {
				status, err := database.Health(ctx, dbClient.DB())
				return *status, err
			},
		).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("valuerank started successfully")

	// 10. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop accepting HTTP first, then drain the
	// queue workers within the configured budget. Jobs that do not
	// finish in time are redelivered after the visibility timeout.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	scheduler.Stop()
	cleanupService.Stop()

	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer drainCancel()
	if err := queueClient.Stop(drainCtx); err != nil {
		slog.Warn("Queue drain incomplete, jobs will be redelivered", "error", err)
	} else {
		slog.Info("Queue workers stopped gracefully")
	}

	slog.Info("Shutdown complete")
}
