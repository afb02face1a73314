package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
)

// Resolution is the outcome of a single threshold decision.
type Resolution struct {
	Matched  bool
	Distance *float64
	Neighbor *Neighbor
	// Identity is the post-update state of the matched identity. It is nil
	// for a match whose face carries no identity.
	Identity *models.Identity
}

type Resolver struct {
	index     Index
	store     Store
	dimension int
}

func NewResolver(index Index, store Store, dimension int) *Resolver {
	return &Resolver{index: index, store: store, dimension: dimension}
}

// IsMatch is the decision boundary: strictly below threshold matches.
func IsMatch(distance, threshold float64) bool {
	return distance < threshold
}

// Resolve queries the index once and applies threshold. On a match the owning
// identity's recency and count are updated.
func (r *Resolver) Resolve(ctx context.Context, query []float32, threshold float64) (*Resolution, error) {
	if err := CheckDimension(query, r.dimension); err != nil {
		return nil, err
	}

	nb, err := r.index.FindNearest(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find nearest: %w", err)
	}
	if nb == nil {
		observability.Recognitions.WithLabelValues("empty").Inc()
		return &Resolution{}, nil
	}

	dist := nb.Distance
	observability.MatchDistance.Observe(dist)
	if !IsMatch(dist, threshold) {
		observability.Recognitions.WithLabelValues("unknown").Inc()
		return &Resolution{Distance: &dist, Neighbor: nb}, nil
	}

	res := &Resolution{Matched: true, Distance: &dist, Neighbor: nb}

	ident, err := r.store.GetIdentityByFaceID(ctx, nb.FaceID)
	if err != nil {
		return nil, fmt.Errorf("get identity for face %d: %w", nb.FaceID, err)
	}
	if ident == nil {
		slog.Warn("matched face has no identity", "face_id", nb.FaceID, "embedding_id", nb.EmbeddingID)
		observability.Recognitions.WithLabelValues("orphan").Inc()
		return res, nil
	}

	updated, err := r.store.UpdateIdentityOnRematch(ctx, ident.ID)
	if errors.Is(err, ErrNotFound) {
		// deleted between lookup and update
		observability.Recognitions.WithLabelValues("orphan").Inc()
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rematch identity %d: %w", ident.ID, err)
	}

	observability.Recognitions.WithLabelValues("matched").Inc()
	observability.Rematches.Inc()
	res.Identity = updated
	return res, nil
}
