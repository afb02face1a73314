package models

import (
	"time"

	"github.com/google/uuid"
)

type CaptureKind string

const (
	CaptureRegister  CaptureKind = "register"
	CaptureRecognize CaptureKind = "recognize"
	CaptureMeet      CaptureKind = "meet"
)

func (k CaptureKind) Valid() bool {
	switch k {
	case CaptureRegister, CaptureRecognize, CaptureMeet:
		return true
	}
	return false
}

// CaptureTask is the message published to NATS for worker processing.
type CaptureTask struct {
	CaptureID  uuid.UUID   `json:"capture_id"`
	DeviceID   string      `json:"device_id,omitempty"`
	Kind       CaptureKind `json:"kind"`
	ObjectKey  string      `json:"object_key"` // MinIO object key of the staged image
	Filename   string      `json:"filename,omitempty"`
	Name       string      `json:"name,omitempty"`
	Context    string      `json:"context,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// CaptureResult is published by the worker once a capture has been handled.
type CaptureResult struct {
	CaptureID   uuid.UUID   `json:"capture_id"`
	DeviceID    string      `json:"device_id,omitempty"`
	Kind        CaptureKind `json:"kind"`
	NoFace      bool        `json:"no_face"`
	Recognized  bool        `json:"recognized"`
	Distance    *float64    `json:"distance,omitempty"`
	PhotoID     int64       `json:"photo_id,omitempty"`
	FaceID      int64       `json:"face_id,omitempty"`
	EmbeddingID int64       `json:"embedding_id,omitempty"`
	Identity    *Identity   `json:"identity,omitempty"`
	Error       string      `json:"error,omitempty"`
	ProcessedAt time.Time   `json:"processed_at"`
}
