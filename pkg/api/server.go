// Package api exposes the HTTP control surface: run lifecycle, results,
// queue and limiter introspection, settings, and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codemonkeychris/valuerank/pkg/database"
	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/queue"
	"github.com/codemonkeychris/valuerank/pkg/ratelimit"
	"github.com/codemonkeychris/valuerank/pkg/run"
	"github.com/codemonkeychris/valuerank/pkg/version"
)

const healthTimeout = 5 * time.Second

// RunLifecycle is the run controller surface the handlers use.
type RunLifecycle interface {
	StartRun(ctx context.Context, req run.StartRunRequest) (*models.Run, error)
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	Pause(ctx context.Context, runID string) (*models.Run, error)
	Resume(ctx context.Context, runID string) (*models.Run, error)
	Cancel(ctx context.Context, runID string) (*models.Run, error)
}

// TranscriptSource lists a run's transcripts.
type TranscriptSource interface {
	ListByRun(ctx context.Context, runID string) ([]*models.Transcript, error)
}

// ProbeResultSource lists a run's terminal probe results.
type ProbeResultSource interface {
	ListByRun(ctx context.Context, runID string) ([]*models.ProbeResult, error)
}

// AnalysisSource reads current analysis results.
type AnalysisSource interface {
	Current(ctx context.Context, runID, analysisType string) (*models.AnalysisResult, error)
}

// QueueStatsSource aggregates a run's queue state.
type QueueStatsSource interface {
	RunStats(ctx context.Context, runID string) (map[string]*queue.JobCounts, []queue.JobFailure, error)
}

// LimiterSource snapshots the live rate limiters.
type LimiterSource interface {
	Stats() []ratelimit.Stats
}

// SettingsStore writes persisted settings.
type SettingsStore interface {
	Set(ctx context.Context, key string, value any) error
}

// Reloader drops caches and limiters after settings changes.
// ReloadSummarize rebuilds only the summarize lanes, leaving the probe
// limiters and their queued work untouched.
type Reloader interface {
	Reload(ctx context.Context)
	ReloadSummarize(ctx context.Context)
}

// HealthFunc probes a dependency.
type HealthFunc func(ctx context.Context) (database.HealthStatus, error)

// Server is the HTTP API server.
type Server struct {
	engine *gin.Engine

	runs        RunLifecycle
	transcripts TranscriptSource
	results     ProbeResultSource
	analyses    AnalysisSource
	queueStats  QueueStatsSource
	limiters    LimiterSource
	settings    SettingsStore
	reloader    Reloader
	health      HealthFunc
}

// NewServer creates the API server and registers all routes.
func NewServer(
	runs RunLifecycle,
	transcripts TranscriptSource,
	results ProbeResultSource,
	analyses AnalysisSource,
	queueStats QueueStatsSource,
	limiters LimiterSource,
	settings SettingsStore,
	reloader Reloader,
	health HealthFunc,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:      gin.New(),
		runs:        runs,
		transcripts: transcripts,
		results:     results,
		analyses:    analyses,
		queueStats:  queueStats,
		limiters:    limiters,
		settings:    settings,
		reloader:    reloader,
		health:      health,
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/version", s.handleVersion)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/runs", s.handleCreateRun)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.POST("/runs/:id/pause", s.handlePauseRun)
		v1.POST("/runs/:id/resume", s.handleResumeRun)
		v1.POST("/runs/:id/cancel", s.handleCancelRun)
		v1.GET("/runs/:id/transcripts", s.handleListTranscripts)
		v1.GET("/runs/:id/results", s.handleListResults)
		v1.GET("/runs/:id/analysis/:type", s.handleGetAnalysis)
		v1.GET("/runs/:id/queue", s.handleRunQueueStats)

		v1.GET("/limiters", s.handleLimiterStats)
		v1.PUT("/settings/:key", s.handlePutSetting)
		v1.POST("/settings/reload", s.handleReload)
	}
}

// Handler exposes the router for serving and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status, err := s.health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": status})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}
