package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/transcript"
	"github.com/your-org/visage/pkg/dto"
)

type PhotoHandler struct {
	engine *identity.Engine
	// Extractor fills in name and context from raw text when the caller
	// sends none. Nil disables extraction.
	Extractor transcript.Extractor
}

func NewPhotoHandler(engine *identity.Engine) *PhotoHandler {
	return &PhotoHandler{engine: engine}
}

// Transcript stores the conversation captured with a photo and updates the
// identities registered from it.
func (h *PhotoHandler) Transcript(c *gin.Context) {
	photoID, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	var req dto.TranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := models.Transcript{PhotoID: photoID, RawText: req.RawText}
	if req.ExtractedName != nil {
		t.ExtractedName = *req.ExtractedName
	}
	if req.Context != nil {
		t.Context = *req.Context
	}
	if req.ExtractedName == nil {
		h.extract(c.Request.Context(), &t, req.Context == nil)
	}

	saved, idents, err := h.engine.ApplyTranscript(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTranscriptResponse(saved, idents))
}

// extract is best effort: a failed extraction still stores the raw text.
func (h *PhotoHandler) extract(ctx context.Context, t *models.Transcript, fillContext bool) {
	if h.Extractor == nil {
		return
	}
	info, err := h.Extractor.Extract(ctx, t.RawText)
	if err != nil {
		slog.Warn("transcript extraction failed", "photo_id", t.PhotoID, "error", err)
		return
	}
	t.ExtractedName = info.Name
	if fillContext {
		t.Context = info.Summary()
	}
}

func (h *PhotoHandler) Delete(c *gin.Context) {
	photoID, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.engine.DeletePhoto(c.Request.Context(), photoID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
