package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
)

type Options struct {
	Threshold float64
	ModelName string
	Dimension int
}

// Capture is one inbound image plus the optional details a caller knows.
type Capture struct {
	Image    []byte
	Filename string
	Name     string
	Context  string
}

type Registration struct {
	NoFace      bool             `json:"no_face"`
	PhotoID     int64            `json:"photo_id,omitempty"`
	FaceID      int64            `json:"face_id,omitempty"`
	EmbeddingID int64            `json:"embedding_id,omitempty"`
	IdentityID  int64            `json:"identity_id,omitempty"`
	Name        string           `json:"name"`
	Identity    *models.Identity `json:"identity,omitempty"`
}

type Recognition struct {
	NoFace     bool             `json:"no_face"`
	Recognized bool             `json:"recognized"`
	Distance   *float64         `json:"distance"`
	Identity   *models.Identity `json:"identity"`
}

// Encounter is the result of Meet: either a recognition of someone already
// known or the registration of someone new.
type Encounter struct {
	Recognition
	Registration *Registration `json:"registration,omitempty"`
}

// Engine wires the extraction collaborator, the store and the index together.
type Engine struct {
	store     Store
	index     Index
	writer    IndexWriter
	extractor Extractor
	resolver  *Resolver
	directory *Directory
	opts      Options
}

// NewEngine builds an engine. When index also implements IndexWriter it is
// notified of every committed insert and delete.
func NewEngine(store Store, index Index, extractor Extractor, opts Options) *Engine {
	e := &Engine{
		store:     store,
		index:     index,
		extractor: extractor,
		resolver:  NewResolver(index, store, opts.Dimension),
		directory: NewDirectory(store),
		opts:      opts,
	}
	if w, ok := index.(IndexWriter); ok {
		e.writer = w
	}
	return e
}

func (e *Engine) Options() Options { return e.opts }

func (e *Engine) extract(ctx context.Context, image []byte) (*models.Detection, error) {
	start := time.Now()
	det, err := e.extractor.Extract(ctx, image)
	observability.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if errors.Is(err, ErrNoFaceDetected) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract face: %w", err)
	}
	return det, nil
}

// Register stores a capture as a new identity without matching it first.
func (e *Engine) Register(ctx context.Context, c Capture) (*Registration, error) {
	det, err := e.extract(ctx, c.Image)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return &Registration{NoFace: true}, nil
	}
	return e.RegisterDetection(ctx, c, det)
}

// RegisterDetection writes photo, face, embedding and identity in one
// transaction.
func (e *Engine) RegisterDetection(ctx context.Context, c Capture, det *models.Detection) (*Registration, error) {
	if err := CheckDimension(det.Vector, e.opts.Dimension); err != nil {
		return nil, err
	}

	start := time.Now()
	name := strings.TrimSpace(c.Name)
	reg := &Registration{Name: name}

	err := e.store.WithTx(ctx, func(tx Records) error {
		var err error
		if reg.PhotoID, err = tx.CreatePhoto(ctx, c.Image, c.Filename); err != nil {
			return err
		}
		conf := det.Confidence
		if reg.FaceID, err = tx.CreateFace(ctx, reg.PhotoID, det.BBox, det.Crop, &conf); err != nil {
			return err
		}
		if reg.EmbeddingID, err = tx.CreateEmbedding(ctx, reg.FaceID, det.Vector, e.opts.ModelName); err != nil {
			return err
		}
		faceID := reg.FaceID
		if reg.IdentityID, err = tx.CreateIdentity(ctx, &faceID, name, strings.TrimSpace(c.Context)); err != nil {
			return err
		}
		reg.Identity, err = tx.GetIdentity(ctx, reg.IdentityID)
		return err
	})
	observability.StageDuration.WithLabelValues("register").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("register capture: %w", err)
	}

	emb := models.Embedding{ID: reg.EmbeddingID, FaceID: reg.FaceID, Vector: det.Vector, ModelName: e.opts.ModelName}
	if e.writer != nil {
		e.writer.Add(emb)
	}
	observability.IdentitiesCreated.Inc()
	slog.Info("identity registered",
		"identity_id", reg.IdentityID, "photo_id", reg.PhotoID, "embedding_id", reg.EmbeddingID)
	return reg, nil
}

// Recognize matches a capture against known identities. Only the matched
// identity's recency and count are written.
func (e *Engine) Recognize(ctx context.Context, image []byte) (*Recognition, error) {
	det, err := e.extract(ctx, image)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return &Recognition{NoFace: true}, nil
	}
	return e.RecognizeVector(ctx, det.Vector)
}

func (e *Engine) RecognizeVector(ctx context.Context, vector []float32) (*Recognition, error) {
	start := time.Now()
	res, err := e.resolver.Resolve(ctx, vector, e.opts.Threshold)
	observability.StageDuration.WithLabelValues("resolve").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &Recognition{Recognized: res.Matched, Distance: res.Distance, Identity: res.Identity}, nil
}

// Meet resolves a capture and registers it as a new identity when nobody
// known is close enough.
func (e *Engine) Meet(ctx context.Context, c Capture) (*Encounter, error) {
	det, err := e.extract(ctx, c.Image)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return &Encounter{Recognition: Recognition{NoFace: true}}, nil
	}

	rec, err := e.RecognizeVector(ctx, det.Vector)
	if err != nil {
		return nil, err
	}
	if rec.Recognized {
		return &Encounter{Recognition: *rec}, nil
	}

	reg, err := e.RegisterDetection(ctx, c, det)
	if err != nil {
		return nil, err
	}
	return &Encounter{
		Recognition:  Recognition{Distance: rec.Distance, Identity: reg.Identity},
		Registration: reg,
	}, nil
}

func (e *Engine) SearchByName(ctx context.Context, text string) (*models.Identity, error) {
	return e.directory.SearchByName(ctx, text)
}

func (e *Engine) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	return e.store.GetIdentity(ctx, id)
}

// UpdateIdentity sets name and/or context. An explicit empty name is rejected.
func (e *Engine) UpdateIdentity(ctx context.Context, id int64, upd DetailsUpdate) (*models.Identity, error) {
	if upd.Name != nil {
		n := strings.TrimSpace(*upd.Name)
		if n == "" {
			return nil, ErrEmptyName
		}
		upd.Name = &n
	}
	return e.store.UpdateIdentityDetails(ctx, id, upd)
}

// ApplyTranscript stores a photo's transcript and feeds its name and context
// into the identities created from that photo.
func (e *Engine) ApplyTranscript(ctx context.Context, t models.Transcript) (*models.Transcript, []models.Identity, error) {
	t.ExtractedName = strings.TrimSpace(t.ExtractedName)
	t.Context = strings.TrimSpace(t.Context)
	saved, idents, err := e.store.SaveTranscript(ctx, t)
	if err != nil {
		return nil, nil, fmt.Errorf("save transcript: %w", err)
	}
	return saved, idents, nil
}

// DeletePhoto removes a photo with its faces, embeddings and originating identities.
func (e *Engine) DeletePhoto(ctx context.Context, photoID int64) error {
	ids, err := e.store.DeletePhoto(ctx, photoID)
	if err != nil {
		return err
	}
	if e.writer != nil && len(ids) > 0 {
		e.writer.Forget(ids...)
	}
	slog.Info("photo deleted", "photo_id", photoID, "embeddings", len(ids))
	return nil
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.store.Stats(ctx)
}
