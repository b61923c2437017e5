package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codemonkeychris/valuerank/pkg/models"
)

func (s *Server) handleRunQueueStats(c *gin.Context) {
	counts, failures, err := s.queueStats.RunStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": counts, "recentFailures": failures})
}

func (s *Server) handleLimiterStats(c *gin.Context) {
	stats := s.limiters.Stats()
	type limiterView struct {
		Name              string  `json:"name"`
		MaxConcurrent     int     `json:"maxConcurrent"`
		RequestsPerMinute int     `json:"requestsPerMinute"`
		Running           int     `json:"running"`
		Queued            int     `json:"queued"`
		Completed         uint64  `json:"completed"`
		ETASeconds        float64 `json:"etaSeconds"`
	}
	out := make([]limiterView, 0, len(stats))
	for _, st := range stats {
		out = append(out, limiterView{
			Name:              st.Name,
			MaxConcurrent:     st.MaxConcurrent,
			RequestsPerMinute: st.RequestsPerMinute,
			Running:           st.Running,
			Queued:            st.Queued,
			Completed:         st.Completed,
			ETASeconds:        st.ETA().Seconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"limiters": out})
}

// handlePutSetting stores one setting value verbatim and reloads the
// dependent caches so the change takes effect without a restart.
func (s *Server) handlePutSetting(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body required"})
		return
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be valid JSON"})
		return
	}
	if err := s.settings.Set(c.Request.Context(), c.Param("key"), value); err != nil {
		mapServiceError(c, err)
		return
	}
	// A full reload would drop every probe limiter's queued work, so a
	// summarize concurrency change only rebuilds the summarize lanes.
	if c.Param("key") == models.SettingSummarizeConcurrency {
		s.reloader.ReloadSummarize(c.Request.Context())
	} else {
		s.reloader.Reload(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "updated": true})
}

func (s *Server) handleReload(c *gin.Context) {
	s.reloader.Reload(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"reloaded": true})
}
