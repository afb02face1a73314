package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

var errConstraint = errors.New("constraint violation")

// MemoryStore is an in-process Capture Record Store. It backs the "memory"
// database driver and the unit tests. Writes inside WithTx are undone when
// the callback fails.
type MemoryStore struct {
	mu        sync.Mutex
	dimension int
	now       func() time.Time
	fold      cases.Caser

	seq         int64
	photos      map[int64]*models.Photo
	faces       map[int64]*models.Face
	embeddings  map[int64]*models.Embedding
	identities  map[int64]*models.Identity
	transcripts map[int64]*models.Transcript // keyed by photo id

	// Error injection
	CreateIdentityError error
	RematchError        error
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension:   dimension,
		now:         time.Now,
		fold:        cases.Fold(),
		photos:      make(map[int64]*models.Photo),
		faces:       make(map[int64]*models.Face),
		embeddings:  make(map[int64]*models.Embedding),
		identities:  make(map[int64]*models.Identity),
		transcripts: make(map[int64]*models.Transcript),
	}
}

// SetClock replaces the time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() {}

// memTx applies writes to the store while recording how to undo them.
// The store mutex is held for its whole lifetime.
type memTx struct {
	m    *MemoryStore
	undo []func()
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(identity.Records) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (m *MemoryStore) run(fn func(tx *memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{m: m})
}

func (m *MemoryStore) CreatePhoto(ctx context.Context, data []byte, filename string) (id int64, err error) {
	err = m.run(func(tx *memTx) error {
		id, err = tx.CreatePhoto(ctx, data, filename)
		return err
	})
	return id, err
}

func (m *MemoryStore) CreateFace(ctx context.Context, photoID int64, bbox models.BBox, crop []byte, confidence *float64) (id int64, err error) {
	err = m.run(func(tx *memTx) error {
		id, err = tx.CreateFace(ctx, photoID, bbox, crop, confidence)
		return err
	})
	return id, err
}

func (m *MemoryStore) CreateEmbedding(ctx context.Context, faceID int64, vector []float32, modelName string) (id int64, err error) {
	err = m.run(func(tx *memTx) error {
		id, err = tx.CreateEmbedding(ctx, faceID, vector, modelName)
		return err
	})
	return id, err
}

func (m *MemoryStore) CreateIdentity(ctx context.Context, faceID *int64, name, details string) (id int64, err error) {
	err = m.run(func(tx *memTx) error {
		id, err = tx.CreateIdentity(ctx, faceID, name, details)
		return err
	})
	return id, err
}

func (m *MemoryStore) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).GetIdentity(ctx, id)
}

func (tx *memTx) next() int64 {
	tx.m.seq++
	return tx.m.seq
}

func (tx *memTx) CreatePhoto(ctx context.Context, data []byte, filename string) (int64, error) {
	p := &models.Photo{ID: tx.next(), Filename: filename, Data: data, CreatedAt: tx.m.now()}
	tx.m.photos[p.ID] = p
	tx.undo = append(tx.undo, func() { delete(tx.m.photos, p.ID) })
	return p.ID, nil
}

func (tx *memTx) CreateFace(ctx context.Context, photoID int64, bbox models.BBox, crop []byte, confidence *float64) (int64, error) {
	if _, ok := tx.m.photos[photoID]; !ok {
		return 0, identity.Storage("create face", fmt.Errorf("%w: photo %d does not exist", errConstraint, photoID))
	}
	if !bbox.Valid() {
		return 0, identity.Storage("create face", fmt.Errorf("%w: invalid bbox %+v", errConstraint, bbox))
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return 0, identity.Storage("create face", fmt.Errorf("%w: confidence %v out of range", errConstraint, *confidence))
	}
	f := &models.Face{ID: tx.next(), PhotoID: photoID, BBox: bbox, Crop: crop, Confidence: confidence, CreatedAt: tx.m.now()}
	tx.m.faces[f.ID] = f
	tx.undo = append(tx.undo, func() { delete(tx.m.faces, f.ID) })
	return f.ID, nil
}

func (tx *memTx) CreateEmbedding(ctx context.Context, faceID int64, vector []float32, modelName string) (int64, error) {
	if err := identity.CheckDimension(vector, tx.m.dimension); err != nil {
		return 0, err
	}
	if _, ok := tx.m.faces[faceID]; !ok {
		return 0, identity.Storage("create embedding", fmt.Errorf("%w: face %d does not exist", errConstraint, faceID))
	}
	for _, e := range tx.m.embeddings {
		if e.FaceID == faceID {
			return 0, identity.Storage("create embedding", fmt.Errorf("%w: face %d already has an embedding", errConstraint, faceID))
		}
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	e := &models.Embedding{ID: tx.next(), FaceID: faceID, Vector: vec, ModelName: modelName, CreatedAt: tx.m.now()}
	tx.m.embeddings[e.ID] = e
	tx.undo = append(tx.undo, func() { delete(tx.m.embeddings, e.ID) })
	return e.ID, nil
}

func (tx *memTx) CreateIdentity(ctx context.Context, faceID *int64, name, details string) (int64, error) {
	if tx.m.CreateIdentityError != nil {
		return 0, identity.Storage("create identity", tx.m.CreateIdentityError)
	}
	if faceID != nil {
		if _, ok := tx.m.faces[*faceID]; !ok {
			return 0, identity.Storage("create identity", fmt.Errorf("%w: face %d does not exist", errConstraint, *faceID))
		}
		for _, ident := range tx.m.identities {
			if ident.FaceID != nil && *ident.FaceID == *faceID {
				return 0, identity.Storage("create identity", fmt.Errorf("%w: face %d already has an identity", errConstraint, *faceID))
			}
		}
	}
	now := tx.m.now()
	ident := &models.Identity{
		ID:          tx.next(),
		Name:        name,
		Context:     details,
		FirstSeenAt: now,
		LastSeenAt:  now,
		TimesMet:    1,
	}
	if faceID != nil {
		fid := *faceID
		ident.FaceID = &fid
	}
	tx.m.identities[ident.ID] = ident
	tx.undo = append(tx.undo, func() { delete(tx.m.identities, ident.ID) })
	return ident.ID, nil
}

func (tx *memTx) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	ident, ok := tx.m.identities[id]
	if !ok {
		return nil, nil
	}
	return cloneIdentity(ident), nil
}

func cloneIdentity(ident *models.Identity) *models.Identity {
	c := *ident
	if ident.FaceID != nil {
		fid := *ident.FaceID
		c.FaceID = &fid
	}
	return &c
}

func (m *MemoryStore) GetIdentityByFaceID(ctx context.Context, faceID int64) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.FaceID != nil && *ident.FaceID == faceID {
			return cloneIdentity(ident), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetIdentityByName(ctx context.Context, text string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := m.fold.String(text)
	var best *models.Identity
	for _, ident := range m.identities {
		if !strings.Contains(m.fold.String(ident.Name), needle) {
			continue
		}
		if best == nil || ident.LastSeenAt.After(best.LastSeenAt) ||
			(ident.LastSeenAt.Equal(best.LastSeenAt) && ident.ID > best.ID) {
			best = ident
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneIdentity(best), nil
}

func (m *MemoryStore) UpdateIdentityOnRematch(ctx context.Context, id int64) (*models.Identity, error) {
	if m.RematchError != nil {
		return nil, identity.Storage("rematch identity", m.RematchError)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.identities[id]
	if !ok {
		return nil, fmt.Errorf("rematch identity %d: %w", id, identity.ErrNotFound)
	}
	if now := m.now(); now.After(ident.LastSeenAt) {
		ident.LastSeenAt = now
	}
	ident.TimesMet++
	return cloneIdentity(ident), nil
}

func (m *MemoryStore) UpdateIdentityDetails(ctx context.Context, id int64, upd identity.DetailsUpdate) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.identities[id]
	if !ok {
		return nil, fmt.Errorf("update identity %d: %w", id, identity.ErrNotFound)
	}
	if upd.Name != nil {
		ident.Name = *upd.Name
	}
	if upd.Context != nil {
		ident.Context = *upd.Context
	}
	return cloneIdentity(ident), nil
}

func (m *MemoryStore) SaveTranscript(ctx context.Context, t models.Transcript) (*models.Transcript, []models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.photos[t.PhotoID]; !ok {
		return nil, nil, fmt.Errorf("save transcript for photo %d: %w", t.PhotoID, identity.ErrNotFound)
	}

	if existing, ok := m.transcripts[t.PhotoID]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		t.ID = (&memTx{m: m}).next()
		t.CreatedAt = m.now()
	}
	saved := t
	m.transcripts[t.PhotoID] = &saved

	var updated []models.Identity
	for _, ident := range m.identities {
		if ident.FaceID == nil {
			continue
		}
		face, ok := m.faces[*ident.FaceID]
		if !ok || face.PhotoID != t.PhotoID {
			continue
		}
		if t.ExtractedName != "" {
			ident.Name = t.ExtractedName
		}
		if t.Context != "" {
			ident.Context = t.Context
		}
		updated = append(updated, *cloneIdentity(ident))
	}
	sort.Slice(updated, func(i, j int) bool { return updated[i].ID < updated[j].ID })

	out := saved
	return &out, updated, nil
}

func (m *MemoryStore) DeletePhoto(ctx context.Context, photoID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.photos[photoID]; !ok {
		return nil, fmt.Errorf("delete photo %d: %w", photoID, identity.ErrNotFound)
	}

	var removed []int64
	for fid, face := range m.faces {
		if face.PhotoID != photoID {
			continue
		}
		for eid, e := range m.embeddings {
			if e.FaceID == fid {
				delete(m.embeddings, eid)
				removed = append(removed, eid)
			}
		}
		for iid, ident := range m.identities {
			if ident.FaceID != nil && *ident.FaceID == fid {
				delete(m.identities, iid)
			}
		}
		delete(m.faces, fid)
	}
	delete(m.transcripts, photoID)
	delete(m.photos, photoID)

	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (identity.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return identity.Stats{
		Photos:      int64(len(m.photos)),
		Faces:       int64(len(m.faces)),
		Embeddings:  int64(len(m.embeddings)),
		Identities:  int64(len(m.identities)),
		Transcripts: int64(len(m.transcripts)),
	}, nil
}

// FindNearest is an exact linear scan over every stored embedding.
func (m *MemoryStore) FindNearest(ctx context.Context, query []float32) (*identity.Neighbor, error) {
	if err := identity.CheckDimension(query, m.dimension); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *identity.Neighbor
	for _, e := range m.embeddings {
		d := identity.L2Distance(query, e.Vector)
		if best == nil || d < best.Distance || (d == best.Distance && e.ID < best.EmbeddingID) {
			best = &identity.Neighbor{EmbeddingID: e.ID, FaceID: e.FaceID, Distance: d}
		}
	}
	return best, nil
}

// AllEmbeddings calls fn for every stored embedding in id order.
func (m *MemoryStore) AllEmbeddings(ctx context.Context, fn func(models.Embedding) error) error {
	m.mu.Lock()
	all := make([]models.Embedding, 0, len(m.embeddings))
	for _, e := range m.embeddings {
		all = append(all, *e)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, e := range all {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// ExistingEmbeddings reports which of ids are still stored.
func (m *MemoryStore) ExistingEmbeddings(ctx context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.embeddings[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}
