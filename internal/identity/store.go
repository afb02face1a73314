package identity

import (
	"context"

	"github.com/your-org/visage/internal/models"
)

// Records is the write surface used inside a registration transaction.
type Records interface {
	CreatePhoto(ctx context.Context, data []byte, filename string) (int64, error)
	CreateFace(ctx context.Context, photoID int64, bbox models.BBox, crop []byte, confidence *float64) (int64, error)
	CreateEmbedding(ctx context.Context, faceID int64, vector []float32, modelName string) (int64, error)
	CreateIdentity(ctx context.Context, faceID *int64, name, details string) (int64, error)
	GetIdentity(ctx context.Context, id int64) (*models.Identity, error)
}

// Store is the Capture Record Store. Lookups return (nil, nil) when the record
// does not exist; every other failure is a *StorageError.
type Store interface {
	Records

	// WithTx runs fn inside one transaction. Nothing fn wrote remains if it
	// returns an error.
	WithTx(ctx context.Context, fn func(Records) error) error

	GetIdentityByFaceID(ctx context.Context, faceID int64) (*models.Identity, error)
	// GetIdentityByName matches a case-insensitive substring of the name. Ties
	// go to the most recently seen identity, then the highest id.
	GetIdentityByName(ctx context.Context, text string) (*models.Identity, error)
	// UpdateIdentityOnRematch atomically increments times_met and moves
	// last_seen_at forward, returning the updated row.
	UpdateIdentityOnRematch(ctx context.Context, id int64) (*models.Identity, error)
	UpdateIdentityDetails(ctx context.Context, id int64, upd DetailsUpdate) (*models.Identity, error)

	// SaveTranscript upserts the photo's transcript and copies a non-empty
	// extracted name and context onto identities created from that photo.
	SaveTranscript(ctx context.Context, t models.Transcript) (*models.Transcript, []models.Identity, error)
	// DeletePhoto removes the photo and everything it owns, returning the ids
	// of the embeddings that went with it.
	DeletePhoto(ctx context.Context, photoID int64) ([]int64, error)

	Stats(ctx context.Context) (Stats, error)
}

// DetailsUpdate carries the name-only update path. Nil fields are left as is.
type DetailsUpdate struct {
	Name    *string
	Context *string
}

type Stats struct {
	Photos      int64 `json:"photos"`
	Faces       int64 `json:"faces"`
	Embeddings  int64 `json:"embeddings"`
	Identities  int64 `json:"identities"`
	Transcripts int64 `json:"transcripts"`
}

// Neighbor is a nearest-neighbor hit.
type Neighbor struct {
	EmbeddingID int64
	FaceID      int64
	Distance    float64
}

// Index is the Embedding Index. FindNearest returns (nil, nil) when nothing is
// stored and fails with ErrDimensionMismatch for a query of the wrong length.
type Index interface {
	FindNearest(ctx context.Context, query []float32) (*Neighbor, error)
}

// IndexWriter is implemented by in-process indexes that must hear about
// embeddings committed or removed by this process.
type IndexWriter interface {
	Add(e models.Embedding)
	Forget(ids ...int64)
}

// Extractor turns an image into a single face detection. It returns
// ErrNoFaceDetected when the image holds no face.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*models.Detection, error)
}
