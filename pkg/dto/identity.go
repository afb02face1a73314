package dto

import (
	"time"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

const timeFormat = time.RFC3339

type IdentityResponse struct {
	ID          int64  `json:"id"`
	FaceID      *int64 `json:"face_id,omitempty"`
	Name        string `json:"name"`
	Context     string `json:"context"`
	FirstSeenAt string `json:"first_seen_at"`
	LastSeenAt  string `json:"last_seen_at"`
	TimesMet    int    `json:"times_met"`
}

func NewIdentityResponse(ident *models.Identity) *IdentityResponse {
	if ident == nil {
		return nil
	}
	return &IdentityResponse{
		ID:          ident.ID,
		FaceID:      ident.FaceID,
		Name:        ident.Name,
		Context:     ident.Context,
		FirstSeenAt: ident.FirstSeenAt.UTC().Format(timeFormat),
		LastSeenAt:  ident.LastSeenAt.UTC().Format(timeFormat),
		TimesMet:    ident.TimesMet,
	}
}

// CaptureRequest is the JSON form of an image upload. ImageData is base64,
// optionally with a data: URL prefix.
type CaptureRequest struct {
	ImageData string `json:"image_data" binding:"required"`
	Filename  string `json:"filename"`
	Name      string `json:"name"`
	Context   string `json:"context"`
	DeviceID  string `json:"device_id"`
	Kind      string `json:"kind"`

	// ConversationContext is accepted in place of Context.
	ConversationContext string `json:"conversation_context"`
}

type RegistrationResponse struct {
	NoFace      bool              `json:"no_face"`
	PhotoID     int64             `json:"photo_id,omitempty"`
	FaceID      int64             `json:"face_id,omitempty"`
	EmbeddingID int64             `json:"embedding_id,omitempty"`
	IdentityID  int64             `json:"identity_id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Identity    *IdentityResponse `json:"identity,omitempty"`
}

func NewRegistrationResponse(r *identity.Registration) *RegistrationResponse {
	if r == nil {
		return nil
	}
	return &RegistrationResponse{
		NoFace:      r.NoFace,
		PhotoID:     r.PhotoID,
		FaceID:      r.FaceID,
		EmbeddingID: r.EmbeddingID,
		IdentityID:  r.IdentityID,
		Name:        r.Name,
		Identity:    NewIdentityResponse(r.Identity),
	}
}

type RecognitionResponse struct {
	NoFace     bool              `json:"no_face"`
	Recognized bool              `json:"recognized"`
	Distance   *float64          `json:"distance"`
	Identity   *IdentityResponse `json:"identity"`
}

func NewRecognitionResponse(r *identity.Recognition) RecognitionResponse {
	return RecognitionResponse{
		NoFace:     r.NoFace,
		Recognized: r.Recognized,
		Distance:   r.Distance,
		Identity:   NewIdentityResponse(r.Identity),
	}
}

type EncounterResponse struct {
	RecognitionResponse
	Registered   bool                  `json:"registered"`
	Registration *RegistrationResponse `json:"registration,omitempty"`
}

func NewEncounterResponse(e *identity.Encounter) EncounterResponse {
	return EncounterResponse{
		RecognitionResponse: NewRecognitionResponse(&e.Recognition),
		Registered:          e.Registration != nil,
		Registration:        NewRegistrationResponse(e.Registration),
	}
}

// UpdateIdentityRequest is the PATCH body. Absent fields are left unchanged.
type UpdateIdentityRequest struct {
	Name    *string `json:"name"`
	Context *string `json:"context"`
}

type StatsResponse struct {
	Photos      int64 `json:"photos"`
	Faces       int64 `json:"faces"`
	Embeddings  int64 `json:"embeddings"`
	Identities  int64 `json:"identities"`
	Transcripts int64 `json:"transcripts"`
}
