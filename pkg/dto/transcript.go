package dto

import "github.com/your-org/visage/internal/models"

type TranscriptRequest struct {
	RawText       string  `json:"raw_text" binding:"required"`
	ExtractedName *string `json:"extracted_name"`
	Context       *string `json:"context"`
}

type TranscriptResponse struct {
	ID            int64              `json:"id"`
	PhotoID       int64              `json:"photo_id"`
	RawText       string             `json:"raw_text"`
	ExtractedName string             `json:"extracted_name,omitempty"`
	Context       string             `json:"context,omitempty"`
	CreatedAt     string             `json:"created_at"`
	Identities    []IdentityResponse `json:"identities"`
}

func NewTranscriptResponse(t *models.Transcript, idents []models.Identity) TranscriptResponse {
	resp := TranscriptResponse{
		ID:            t.ID,
		PhotoID:       t.PhotoID,
		RawText:       t.RawText,
		ExtractedName: t.ExtractedName,
		Context:       t.Context,
		CreatedAt:     t.CreatedAt.UTC().Format(timeFormat),
		Identities:    make([]IdentityResponse, 0, len(idents)),
	}
	for i := range idents {
		resp.Identities = append(resp.Identities, *NewIdentityResponse(&idents[i]))
	}
	return resp
}
