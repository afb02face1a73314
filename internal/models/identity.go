package models

import "time"

// Identity is a long-lived person record. FaceID points at the face that
// created it and is nil once that link is gone or was never set.
type Identity struct {
	ID          int64     `json:"id" db:"id"`
	FaceID      *int64    `json:"face_id,omitempty" db:"face_id"`
	Name        string    `json:"name" db:"name"`
	Context     string    `json:"context" db:"context"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	TimesMet    int       `json:"times_met" db:"times_met"`
}

// Detection is what the extraction collaborator returns for one image.
type Detection struct {
	Vector     []float32
	BBox       BBox
	Confidence float64
	Crop       []byte // JPEG-encoded face crop, optional
}
