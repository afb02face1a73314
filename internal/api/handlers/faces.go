package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/vision"
	"github.com/your-org/visage/pkg/dto"
)

// FaceHandler serves the synchronous register, recognize and meet flows.
type FaceHandler struct {
	engine   *identity.Engine
	maxBytes int64
}

func NewFaceHandler(engine *identity.Engine, maxImageBytes int64) *FaceHandler {
	return &FaceHandler{engine: engine, maxBytes: maxImageBytes}
}

func (h *FaceHandler) capture(c *gin.Context) (*upload, bool) {
	u, err := readUpload(c, h.maxBytes)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if _, err := vision.ValidateImage(u.Image, h.maxBytes); err != nil {
		writeError(c, err)
		return nil, false
	}
	return u, true
}

// Meeting registers the uploaded face as a new identity.
func (h *FaceHandler) Meeting(c *gin.Context) {
	u, ok := h.capture(c)
	if !ok {
		return
	}

	reg, err := h.engine.Register(c.Request.Context(), identity.Capture{
		Image: u.Image, Filename: u.Filename, Name: u.Name, Context: u.Context,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if reg.NoFace {
		c.JSON(http.StatusUnprocessableEntity, dto.NewRegistrationResponse(reg))
		return
	}
	c.JSON(http.StatusCreated, dto.NewRegistrationResponse(reg))
}

// Recognition matches the uploaded face against known identities.
func (h *FaceHandler) Recognition(c *gin.Context) {
	u, ok := h.capture(c)
	if !ok {
		return
	}

	rec, err := h.engine.Recognize(c.Request.Context(), u.Image)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRecognitionResponse(rec))
}

// Encounter recognizes the uploaded face, registering it when unknown.
func (h *FaceHandler) Encounter(c *gin.Context) {
	u, ok := h.capture(c)
	if !ok {
		return
	}

	enc, err := h.engine.Meet(c.Request.Context(), identity.Capture{
		Image: u.Image, Filename: u.Filename, Name: u.Name, Context: u.Context,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if enc.Registration != nil {
		status = http.StatusCreated
	}
	c.JSON(status, dto.NewEncounterResponse(enc))
}
