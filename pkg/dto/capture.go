package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/visage/internal/models"
)

type CaptureAccepted struct {
	CaptureID uuid.UUID `json:"capture_id"`
	Status    string    `json:"status"`
}

// WSEvent is a WebSocket message for real-time capture result delivery.
type WSEvent struct {
	Type     string               `json:"type"` // capture_result
	DeviceID string               `json:"device_id,omitempty"`
	Data     models.CaptureResult `json:"data"`
}

func NewCaptureResultEvent(r models.CaptureResult) *WSEvent {
	return &WSEvent{Type: "capture_result", DeviceID: r.DeviceID, Data: r}
}
