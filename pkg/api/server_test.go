package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemonkeychris/valuerank/pkg/database"
	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/queue"
	"github.com/codemonkeychris/valuerank/pkg/ratelimit"
	"github.com/codemonkeychris/valuerank/pkg/run"
	"github.com/codemonkeychris/valuerank/pkg/services"
)

type fakeRuns struct {
	runs      map[string]*models.Run
	startErr  error
	pauseErr  error
	lastStart run.StartRunRequest
}

func (f *fakeRuns) StartRun(ctx context.Context, req run.StartRunRequest) (*models.Run, error) {
	f.lastStart = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	r := &models.Run{
		ID:           "run-1",
		DefinitionID: req.DefinitionID,
		Status:       models.RunStatusPending,
		Config:       models.RunConfig{Models: req.Models, SamplePercentage: 100, Priority: models.PriorityNormal},
		Progress:     models.Progress{Total: len(req.Models)},
		CreatedAt:    time.Now(),
	}
	return r, nil
}

func (f *fakeRuns) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, services.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) Pause(ctx context.Context, runID string) (*models.Run, error) {
	if f.pauseErr != nil {
		return nil, f.pauseErr
	}
	r, ok := f.runs[runID]
	if !ok {
		return nil, services.ErrNotFound
	}
	r.Status = models.RunStatusPaused
	return r, nil
}

func (f *fakeRuns) Resume(ctx context.Context, runID string) (*models.Run, error) {
	return f.runs[runID], nil
}

func (f *fakeRuns) Cancel(ctx context.Context, runID string) (*models.Run, error) {
	r, ok := f.runs[runID]
	if !ok {
		return nil, services.ErrNotFound
	}
	r.Status = models.RunStatusCancelled
	return r, nil
}

type fakeTranscripts struct{ transcripts []*models.Transcript }

func (f *fakeTranscripts) ListByRun(ctx context.Context, runID string) ([]*models.Transcript, error) {
	return f.transcripts, nil
}

type fakeResults struct{ results []*models.ProbeResult }

func (f *fakeResults) ListByRun(ctx context.Context, runID string) ([]*models.ProbeResult, error) {
	return f.results, nil
}

type fakeAnalyses struct{ current *models.AnalysisResult }

func (f *fakeAnalyses) Current(ctx context.Context, runID, analysisType string) (*models.AnalysisResult, error) {
	if f.current == nil {
		return nil, services.ErrNotFound
	}
	return f.current, nil
}

type fakeQueueStats struct{}

func (f *fakeQueueStats) RunStats(ctx context.Context, runID string) (map[string]*queue.JobCounts, []queue.JobFailure, error) {
	return map[string]*queue.JobCounts{
		"probe_openai": {Pending: 3, Active: 2, Completed: 10},
	}, []queue.JobFailure{{Kind: "probe_scenario", Error: "HTTP 429"}}, nil
}

type fakeLimiters struct{ stats []ratelimit.Stats }

func (f *fakeLimiters) Stats() []ratelimit.Stats { return f.stats }

type fakeSettings struct {
	set map[string]any
	err error
}

func (f *fakeSettings) Set(ctx context.Context, key string, value any) error {
	if f.err != nil {
		return f.err
	}
	if f.set == nil {
		f.set = make(map[string]any)
	}
	f.set[key] = value
	return nil
}

type fakeReloader struct {
	calls          int
	summarizeCalls int
}

func (f *fakeReloader) Reload(ctx context.Context) { f.calls++ }

func (f *fakeReloader) ReloadSummarize(ctx context.Context) { f.summarizeCalls++ }

type fixture struct {
	runs     *fakeRuns
	settings *fakeSettings
	reloader *fakeReloader
	server   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runs:     &fakeRuns{runs: make(map[string]*models.Run)},
		settings: &fakeSettings{},
		reloader: &fakeReloader{},
	}
	f.server = NewServer(
		f.runs,
		&fakeTranscripts{},
		&fakeResults{},
		&fakeAnalyses{},
		&fakeQueueStats{},
		&fakeLimiters{},
		f.settings,
		f.reloader,
		func(ctx context.Context) (database.HealthStatus, error) {
			return database.HealthStatus{Status: "healthy"}, nil
		},
	)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateRun(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/runs",
		`{"definitionId":"def-1","models":["gpt-test","claude-test"],"priority":"high"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, []string{"gpt-test", "claude-test"}, f.runs.lastStart.Models)
	assert.Equal(t, models.PriorityHigh, f.runs.lastStart.Priority)
}

func TestCreateRunValidation(t *testing.T) {
	f := newFixture(t)

	// Missing required fields fail binding.
	rec := f.do(t, http.MethodPost, "/api/v1/runs", `{"models":["gpt-test"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Service-level validation maps to 400 too.
	f.runs.startErr = services.NewValidationError("samplePercentage", "must be between 1 and 100")
	rec = f.do(t, http.MethodPost, "/api/v1/runs",
		`{"definitionId":"def-1","models":["gpt-test"],"samplePercentage":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "samplePercentage")
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseAndCancel(t *testing.T) {
	f := newFixture(t)
	f.runs.runs["run-1"] = &models.Run{ID: "run-1", Status: models.RunStatusRunning}

	rec := f.do(t, http.MethodPost, "/api/v1/runs/run-1/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paused"`)

	rec = f.do(t, http.MethodPost, "/api/v1/runs/run-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)
}

func TestIllegalTransitionConflicts(t *testing.T) {
	f := newFixture(t)
	f.runs.runs["run-1"] = &models.Run{ID: "run-1", Status: models.RunStatusCompleted}
	f.runs.pauseErr = services.ErrRunState

	rec := f.do(t, http.MethodPost, "/api/v1/runs/run-1/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueAndLimiterStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/run-1/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "probe_openai")
	assert.Contains(t, rec.Body.String(), "recentFailures")

	rec = f.do(t, http.MethodGet, "/api/v1/limiters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "limiters")
}

func TestPutSettingReloads(t *testing.T) {
	f := newFixture(t)

	// A summarize concurrency change rebuilds only the summarize lanes:
	// a full reload would fail the probe limiters' queued work.
	rec := f.do(t, http.MethodPut, "/api/v1/settings/summarize_concurrency", `16`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(16), f.settings.set["summarize_concurrency"])
	assert.Equal(t, 1, f.reloader.summarizeCalls)
	assert.Zero(t, f.reloader.calls)

	// Other settings reload everything.
	rec = f.do(t, http.MethodPut, "/api/v1/settings/infra_model_summarizer", `{"provider":"anthropic","model":"claude-haiku"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.reloader.calls)

	// Bodies that are not valid JSON are rejected before the store.
	rec = f.do(t, http.MethodPut, "/api/v1/settings/summarize_concurrency", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, f.reloader.summarizeCalls)
	assert.Equal(t, 1, f.reloader.calls)

	rec = f.do(t, http.MethodPost, "/api/v1/settings/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.reloader.calls)
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = f.do(t, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "valuerank")
}

func TestGetAnalysisNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/run-1/analysis/basic", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
