package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/vision"
)

var errBadRequest = errors.New("bad request")

// writeError maps engine errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var se *identity.StorageError

	switch {
	case errors.Is(err, identity.ErrNoFaceDetected), errors.Is(err, identity.ErrDimensionMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, identity.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, identity.ErrEmptyName), errors.Is(err, vision.ErrInvalidImage), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.As(err, &se):
		slog.Error("storage failure", "op", se.Op, "error", se.Err, "path", c.FullPath())
		c.JSON(status, gin.H{"error": "storage failure"})
		return
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "path", c.FullPath())
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
