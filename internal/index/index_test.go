package index

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/storage"
)

// seed stores one photo/face/embedding per vector and returns embedding ids.
func seed(t *testing.T, store *storage.MemoryStore, vectors [][]float32) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, len(vectors))
	for i, v := range vectors {
		photoID, err := store.CreatePhoto(ctx, []byte{1}, "")
		if err != nil {
			t.Fatalf("create photo: %v", err)
		}
		faceID, err := store.CreateFace(ctx, photoID, models.BBox{Width: 10, Height: 10}, nil, nil)
		if err != nil {
			t.Fatalf("create face: %v", err)
		}
		ids[i], err = store.CreateEmbedding(ctx, faceID, v, "test")
		if err != nil {
			t.Fatalf("create embedding: %v", err)
		}
	}
	return ids
}

func newLoaded(t *testing.T, store *storage.MemoryStore, kind string, dim int) *Index {
	t.Helper()
	idx, err := New(store, Options{Kind: kind, Dimension: dim})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := idx.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return idx
}

func randomVectors(r *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero dimension", Options{Kind: KindFlat}},
		{"unknown kind", Options{Kind: "ivf", Dimension: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(storage.NewMemoryStore(4), tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFindNearest_MatchesExactScan(t *testing.T) {
	const dim = 8
	r := rand.New(rand.NewSource(7))

	for _, kind := range []string{KindFlat, KindHNSW} {
		t.Run(kind, func(t *testing.T) {
			store := storage.NewMemoryStore(dim)
			vectors := randomVectors(r, 200, dim)
			ids := seed(t, store, vectors)
			idx := newLoaded(t, store, kind, dim)
			ctx := context.Background()

			const queries = 50
			hits := 0
			for q := 0; q < queries; q++ {
				query := randomVectors(r, 1, dim)[0]
				want, err := store.FindNearest(ctx, query)
				if err != nil {
					t.Fatalf("exact scan: %v", err)
				}
				got, err := idx.FindNearest(ctx, query)
				if err != nil {
					t.Fatalf("FindNearest: %v", err)
				}
				if got == nil {
					t.Fatalf("query %d: no neighbor", q)
				}
				if got.EmbeddingID == want.EmbeddingID {
					hits++
				} else if kind == KindFlat {
					t.Fatalf("query %d: got %+v, want %+v", q, got, want)
				}
			}
			// the graph is approximate; the flat scan is checked exactly above
			if recall := float64(hits) / queries; recall < 0.95 {
				t.Errorf("recall = %.2f, want >= 0.95", recall)
			}

			// a stored vector is found at distance exactly 0
			got, err := idx.FindNearest(ctx, vectors[42])
			if err != nil {
				t.Fatalf("FindNearest: %v", err)
			}
			if got.EmbeddingID != ids[42] || got.Distance != 0 {
				t.Errorf("got %+v, want id %d at distance 0", got, ids[42])
			}
		})
	}
}

func TestFindNearest_TieGoesToLowestID(t *testing.T) {
	for _, kind := range []string{KindFlat, KindHNSW} {
		t.Run(kind, func(t *testing.T) {
			store := storage.NewMemoryStore(2)
			ids := seed(t, store, [][]float32{{1, 0}, {-1, 0}, {0, 1}})
			idx := newLoaded(t, store, kind, 2)

			got, err := idx.FindNearest(context.Background(), []float32{0, 0})
			if err != nil {
				t.Fatalf("FindNearest: %v", err)
			}
			if got.EmbeddingID != ids[0] {
				t.Errorf("got embedding %d, want %d", got.EmbeddingID, ids[0])
			}
		})
	}
}

func TestFindNearest_Empty(t *testing.T) {
	for _, kind := range []string{KindFlat, KindHNSW} {
		t.Run(kind, func(t *testing.T) {
			idx := newLoaded(t, storage.NewMemoryStore(3), kind, 3)
			got, err := idx.FindNearest(context.Background(), []float32{1, 2, 3})
			if err != nil {
				t.Fatalf("FindNearest: %v", err)
			}
			if got != nil {
				t.Errorf("expected no neighbor, got %+v", got)
			}
		})
	}
}

func TestFindNearest_DimensionMismatch(t *testing.T) {
	store := storage.NewMemoryStore(3)
	seed(t, store, [][]float32{{1, 2, 3}})
	idx := newLoaded(t, store, KindHNSW, 3)

	for _, q := range [][]float32{{1, 2}, {1, 2, 3, 4}, nil} {
		_, err := idx.FindNearest(context.Background(), q)
		if !errors.Is(err, identity.ErrDimensionMismatch) {
			t.Errorf("len %d: expected ErrDimensionMismatch, got %v", len(q), err)
		}
	}
}

func TestAddAndForget(t *testing.T) {
	for _, kind := range []string{KindFlat, KindHNSW} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryStore(2)
			idx := newLoaded(t, store, kind, 2)

			ids := seed(t, store, [][]float32{{0, 0}, {5, 5}})
			// not visible until the index hears about it
			if got, _ := idx.FindNearest(ctx, []float32{0, 0}); got != nil {
				t.Fatalf("expected empty index, got %+v", got)
			}

			idx.Add(models.Embedding{ID: ids[0], FaceID: 1, Vector: []float32{0, 0}})
			idx.Add(models.Embedding{ID: ids[1], FaceID: 2, Vector: []float32{5, 5}})
			if idx.Len() != 2 {
				t.Fatalf("Len() = %d, want 2", idx.Len())
			}

			idx.Forget(ids[0])
			got, err := idx.FindNearest(ctx, []float32{0, 0})
			if err != nil {
				t.Fatalf("FindNearest: %v", err)
			}
			if got == nil || got.EmbeddingID != ids[1] {
				t.Errorf("got %+v, want embedding %d", got, ids[1])
			}
		})
	}
}

func TestFindNearest_SkipsEmbeddingsDeletedElsewhere(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(2)
	seed(t, store, [][]float32{{0, 0}})
	far := seed(t, store, [][]float32{{9, 9}})
	idx := newLoaded(t, store, KindHNSW, 2)

	// photo 1 owns the closest embedding; delete it behind the index's back
	if _, err := store.DeletePhoto(ctx, 1); err != nil {
		t.Fatalf("DeletePhoto: %v", err)
	}

	got, err := idx.FindNearest(ctx, []float32{0, 0})
	if err != nil {
		t.Fatalf("FindNearest: %v", err)
	}
	if got == nil || got.EmbeddingID != far[0] {
		t.Errorf("got %+v, want embedding %d", got, far[0])
	}
	if idx.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after stale entry was dropped", idx.Len())
	}
}

// gatedSource snapshots the store, then holds the scan until release closes.
type gatedSource struct {
	*storage.MemoryStore
	scanning chan struct{}
	release  chan struct{}
}

func (g *gatedSource) AllEmbeddings(ctx context.Context, fn func(models.Embedding) error) error {
	var snapshot []models.Embedding
	if err := g.MemoryStore.AllEmbeddings(ctx, func(e models.Embedding) error {
		snapshot = append(snapshot, e)
		return nil
	}); err != nil {
		return err
	}
	close(g.scanning)
	<-g.release
	for _, e := range snapshot {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func TestLoad_KeepsChangesMadeDuringScan(t *testing.T) {
	for _, kind := range []string{KindFlat, KindHNSW} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryStore(2)
			old := seed(t, store, [][]float32{{9, 9}, {7, 7}})

			src := &gatedSource{MemoryStore: store, scanning: make(chan struct{}), release: make(chan struct{})}
			idx, err := New(src, Options{Kind: kind, Dimension: 2})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			done := make(chan error, 1)
			go func() { done <- idx.Load(ctx) }()
			<-src.scanning

			// committed after the snapshot was taken
			added := seed(t, store, [][]float32{{0, 0}})
			idx.Add(models.Embedding{ID: added[0], FaceID: 3, Vector: []float32{0, 0}})
			idx.Forget(old[1])

			close(src.release)
			if err := <-done; err != nil {
				t.Fatalf("Load: %v", err)
			}

			got, err := idx.FindNearest(ctx, []float32{0, 0})
			if err != nil {
				t.Fatalf("FindNearest: %v", err)
			}
			if got == nil || got.EmbeddingID != added[0] {
				t.Errorf("got %+v, want embedding %d added during the scan", got, added[0])
			}
			if idx.Len() != 2 {
				t.Errorf("Len() = %d, want 2 (forgotten embedding stays out)", idx.Len())
			}
		})
	}
}
