package models

import "time"

type Photo struct {
	ID        int64     `json:"id" db:"id"`
	Filename  string    `json:"filename,omitempty" db:"filename"`
	Data      []byte    `json:"-" db:"image_data"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BBox is a face bounding box in source-image pixels.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Valid reports whether the box has a non-negative origin and a positive size.
func (b BBox) Valid() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width > 0 && b.Height > 0
}

type Face struct {
	ID         int64     `json:"id" db:"id"`
	PhotoID    int64     `json:"photo_id" db:"photo_id"`
	BBox       BBox      `json:"bbox"`
	Crop       []byte    `json:"-" db:"crop_data"`
	Confidence *float64  `json:"confidence,omitempty" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type Embedding struct {
	ID        int64     `json:"id" db:"id"`
	FaceID    int64     `json:"face_id" db:"face_id"`
	Vector    []float32 `json:"-" db:"vector"`
	ModelName string    `json:"model_name" db:"model_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transcript is conversation text captured alongside a photo.
type Transcript struct {
	ID            int64     `json:"id" db:"id"`
	PhotoID       int64     `json:"photo_id" db:"photo_id"`
	RawText       string    `json:"raw_text" db:"raw_text"`
	ExtractedName string    `json:"extracted_name,omitempty" db:"extracted_name"`
	Context       string    `json:"context,omitempty" db:"context"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
