package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/vision"
	"github.com/your-org/visage/pkg/dto"
)

type captureStager interface {
	StageCapture(ctx context.Context, id uuid.UUID, data []byte, contentType string) (string, error)
	DeleteCapture(ctx context.Context, key string) error
}

type capturePublisher interface {
	PublishCapture(ctx context.Context, task models.CaptureTask) error
}

// CaptureHandler accepts captures for asynchronous processing by workers.
type CaptureHandler struct {
	stager    captureStager
	publisher capturePublisher
	maxBytes  int64
}

func NewCaptureHandler(stager captureStager, publisher capturePublisher, maxImageBytes int64) *CaptureHandler {
	return &CaptureHandler{stager: stager, publisher: publisher, maxBytes: maxImageBytes}
}

func (h *CaptureHandler) Create(c *gin.Context) {
	u, err := readUpload(c, h.maxBytes)
	if err != nil {
		writeError(c, err)
		return
	}

	kind := models.CaptureKind(u.Kind)
	if kind == "" {
		kind = models.CaptureMeet
	}
	if !kind.Valid() {
		writeError(c, fmt.Errorf("%w: unknown capture kind %q", errBadRequest, u.Kind))
		return
	}
	format, err := vision.ValidateImage(u.Image, h.maxBytes)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	id := uuid.New()
	key, err := h.stager.StageCapture(ctx, id, u.Image, "image/"+format)
	if err != nil {
		slog.Error("stage capture", "capture_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	task := models.CaptureTask{
		CaptureID:  id,
		DeviceID:   u.DeviceID,
		Kind:       kind,
		ObjectKey:  key,
		Filename:   u.Filename,
		Name:       u.Name,
		Context:    u.Context,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.publisher.PublishCapture(ctx, task); err != nil {
		slog.Error("publish capture", "capture_id", id, "error", err)
		_ = h.stager.DeleteCapture(ctx, key)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, dto.CaptureAccepted{CaptureID: id, Status: "queued"})
}
