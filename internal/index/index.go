// Package index holds in-process Embedding Index implementations: an exact
// linear scan and an HNSW graph. Both keep a live set of embeddings warmed
// from the record store and confirm candidates against it before answering.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
)

const (
	KindFlat = "flat"
	KindHNSW = "hnsw"
)

// Source is the store side of the index: a full scan for warm-up and a
// liveness check for candidates.
type Source interface {
	AllEmbeddings(ctx context.Context, fn func(models.Embedding) error) error
	ExistingEmbeddings(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// backend finds candidate embedding ids for a query. Candidates may include
// ids that are no longer live.
type backend interface {
	add(id int64, vec []float32)
	candidates(query []float32, k int) []int64
	size() int
}

type entry struct {
	faceID int64
	vector []float32
}

type Options struct {
	Kind       string
	Dimension  int
	Candidates int // HNSW result size before exact re-rank
	M          int
	EfSearch   int
}

// change is an Add or Forget recorded while a Load is scanning the source.
type change struct {
	id     int64
	entry  entry
	forget bool
}

// Index is safe for concurrent use.
type Index struct {
	loadMu  sync.Mutex
	mu      sync.RWMutex
	opts    Options
	source  Source
	live    map[int64]entry
	backend backend

	// non-nil while a Load is in flight
	pending *[]change
}

func New(source Source, opts Options) (*Index, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", opts.Dimension)
	}
	switch opts.Kind {
	case KindFlat, KindHNSW:
	default:
		return nil, fmt.Errorf("unknown index kind %q", opts.Kind)
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 16
	}
	idx := &Index{opts: opts, source: source, live: make(map[int64]entry)}
	idx.backend = idx.newBackend()
	return idx, nil
}

func (i *Index) newBackend() backend {
	if i.opts.Kind == KindHNSW {
		return newGraph(i.opts.M, i.opts.EfSearch)
	}
	return &flat{}
}

// Load replaces the index contents with everything the source holds. Adds
// and Forgets made while the scan runs are replayed onto the new contents.
func (i *Index) Load(ctx context.Context) error {
	i.loadMu.Lock()
	defer i.loadMu.Unlock()

	start := time.Now()
	live := make(map[int64]entry)
	b := i.newBackend()

	i.mu.Lock()
	i.pending = &[]change{}
	i.mu.Unlock()

	err := i.source.AllEmbeddings(ctx, func(e models.Embedding) error {
		if len(e.Vector) != i.opts.Dimension {
			slog.Warn("skipping embedding with wrong dimension", "embedding_id", e.ID, "len", len(e.Vector))
			return nil
		}
		live[e.ID] = entry{faceID: e.FaceID, vector: e.Vector}
		b.add(e.ID, e.Vector)
		return nil
	})
	if err != nil {
		i.mu.Lock()
		i.pending = nil
		i.mu.Unlock()
		return fmt.Errorf("load embeddings: %w", err)
	}

	i.mu.Lock()
	for _, c := range *i.pending {
		if c.forget {
			delete(live, c.id)
			continue
		}
		if _, ok := live[c.id]; !ok {
			live[c.id] = c.entry
			b.add(c.id, c.entry.vector)
		}
	}
	i.pending = nil
	i.live = live
	i.backend = b
	i.mu.Unlock()

	observability.IndexSize.WithLabelValues(i.opts.Kind).Set(float64(len(live)))
	slog.Info("embedding index loaded", "kind", i.opts.Kind, "embeddings", len(live), "duration", time.Since(start))
	return nil
}

// Run reloads the index every interval until ctx is done, picking up
// embeddings written by other processes.
func (i *Index) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.Load(ctx); err != nil && ctx.Err() == nil {
				slog.Error("reload embedding index", "error", err)
			}
		}
	}
}

func (i *Index) Add(e models.Embedding) {
	if len(e.Vector) != i.opts.Dimension {
		return
	}
	en := entry{faceID: e.FaceID, vector: e.Vector}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending != nil {
		*i.pending = append(*i.pending, change{id: e.ID, entry: en})
	}
	if _, ok := i.live[e.ID]; ok {
		return
	}
	i.live[e.ID] = en
	i.backend.add(e.ID, e.Vector)
	observability.IndexSize.WithLabelValues(i.opts.Kind).Set(float64(len(i.live)))
}

// Forget drops ids from the live set. Graph nodes stay behind as tombstones
// until the next Load.
func (i *Index) Forget(ids ...int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range ids {
		delete(i.live, id)
		if i.pending != nil {
			*i.pending = append(*i.pending, change{id: id, forget: true})
		}
	}
	observability.IndexSize.WithLabelValues(i.opts.Kind).Set(float64(len(i.live)))
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.live)
}

// FindNearest returns the live embedding closest to query, ties going to the
// lowest id.
func (i *Index) FindNearest(ctx context.Context, query []float32) (*identity.Neighbor, error) {
	if err := identity.CheckDimension(query, i.opts.Dimension); err != nil {
		return nil, err
	}

	nb, err := i.firstExisting(ctx, i.rank(query, false))
	if err != nil || nb != nil {
		return nb, err
	}
	if i.Len() == 0 {
		return nil, nil
	}

	// no live candidate came back from the backend; fall back to a full scan
	return i.firstExisting(ctx, i.rank(query, true))
}

// rank returns live candidates sorted by exact distance then id.
func (i *Index) rank(query []float32, exhaustive bool) []identity.Neighbor {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.live) == 0 {
		return nil
	}

	var ids []int64
	if exhaustive {
		ids = make([]int64, 0, len(i.live))
		for id := range i.live {
			ids = append(ids, id)
		}
	} else {
		// widen the search by the number of tombstones in the backend
		k := i.opts.Candidates + i.backend.size() - len(i.live)
		ids = i.backend.candidates(query, k)
	}

	hits := make([]identity.Neighbor, 0, len(ids))
	for _, id := range ids {
		e, ok := i.live[id]
		if !ok {
			continue
		}
		hits = append(hits, identity.Neighbor{
			EmbeddingID: id,
			FaceID:      e.faceID,
			Distance:    identity.L2Distance(query, e.vector),
		})
	}
	sortNeighbors(hits)
	return hits
}

// firstExisting confirms hits against the source in order and forgets the
// ones another process deleted.
func (i *Index) firstExisting(ctx context.Context, hits []identity.Neighbor) (*identity.Neighbor, error) {
	const batch = 16
	for start := 0; start < len(hits); start += batch {
		end := min(start+batch, len(hits))
		ids := make([]int64, 0, end-start)
		for _, h := range hits[start:end] {
			ids = append(ids, h.EmbeddingID)
		}

		exists, err := i.source.ExistingEmbeddings(ctx, ids)
		if err != nil {
			return nil, identity.Storage("check embeddings", err)
		}

		var gone []int64
		var found *identity.Neighbor
		for _, h := range hits[start:end] {
			if !exists[h.EmbeddingID] {
				gone = append(gone, h.EmbeddingID)
				continue
			}
			if found == nil {
				found = &h
			}
		}
		if len(gone) > 0 {
			i.Forget(gone...)
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, nil
}

func sortNeighbors(hits []identity.Neighbor) {
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].EmbeddingID < hits[b].EmbeddingID
	})
}
