package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/pkg/dto"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type SystemHandler struct {
	engine *identity.Engine
	checks map[string]Check
}

func NewSystemHandler(engine *identity.Engine, checks map[string]Check) *SystemHandler {
	return &SystemHandler{engine: engine, checks: checks}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

func (h *SystemHandler) Stats(c *gin.Context) {
	s, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.StatsResponse{
		Photos:      s.Photos,
		Faces:       s.Faces,
		Embeddings:  s.Embeddings,
		Identities:  s.Identities,
		Transcripts: s.Transcripts,
	})
}
