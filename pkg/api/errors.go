package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codemonkeychris/valuerank/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP responses. Internal
// details never leak; unexpected errors are logged and surfaced as 500.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input"})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	if errors.Is(err, services.ErrRunState) {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not in a state that allows this transition"})
		return
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "resource already exists"})
		return
	}

	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
