package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codemonkeychris/valuerank/pkg/models"
	"github.com/codemonkeychris/valuerank/pkg/run"
)

func (s *Server) handleCreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	created, err := s.runs.StartRun(c.Request.Context(), run.StartRunRequest{
		DefinitionID:     req.DefinitionID,
		ExperimentID:     req.ExperimentID,
		Models:           req.Models,
		SamplePercentage: req.SamplePercentage,
		SampleSeed:       req.SampleSeed,
		Priority:         models.RunPriority(req.Priority),
		Temperature:      req.Temperature,
		MaxTurns:         req.MaxTurns,
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRunResponse(created))
}

func (s *Server) handleGetRun(c *gin.Context) {
	found, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRunResponse(found))
}

func (s *Server) handlePauseRun(c *gin.Context) {
	s.transition(c, s.runs.Pause)
}

func (s *Server) handleResumeRun(c *gin.Context) {
	s.transition(c, s.runs.Resume)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	s.transition(c, s.runs.Cancel)
}

func (s *Server) transition(c *gin.Context, apply func(ctx context.Context, runID string) (*models.Run, error)) {
	updated, err := apply(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRunResponse(updated))
}

func (s *Server) handleListTranscripts(c *gin.Context) {
	transcripts, err := s.transcripts.ListByRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	out := make([]TranscriptResponse, 0, len(transcripts))
	for _, t := range transcripts {
		out = append(out, toTranscriptResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": out})
}

func (s *Server) handleListResults(c *gin.Context) {
	results, err := s.results.ListByRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	result, err := s.analyses.Current(c.Request.Context(), c.Param("id"), c.Param("type"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
