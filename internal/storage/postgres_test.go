//go:build integration

package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

func setupTestContainer(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	store, err := NewPostgresStore(config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxConns:     10,
		EmbeddingDim: 2,
		EfSearch:     100,
	})
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return store, func() {
		store.Close()
		container.Terminate(ctx)
	}
}

func register(t *testing.T, s *PostgresStore, vec []float32, name string) (photoID, faceID, embID, identID int64) {
	t.Helper()
	ctx := context.Background()
	conf := 0.99
	err := s.WithTx(ctx, func(tx identity.Records) error {
		var err error
		if photoID, err = tx.CreatePhoto(ctx, []byte("jpeg"), "a.jpg"); err != nil {
			return err
		}
		if faceID, err = tx.CreateFace(ctx, photoID, models.BBox{X: 1, Y: 1, Width: 10, Height: 10}, nil, &conf); err != nil {
			return err
		}
		if embID, err = tx.CreateEmbedding(ctx, faceID, vec, "test"); err != nil {
			return err
		}
		identID, err = tx.CreateIdentity(ctx, &faceID, name, "")
		return err
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return
}

func TestPostgresStore(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()
	ctx := context.Background()

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("second Migrate: %v", err)
		}
		versions, err := store.MigrationsApplied(ctx)
		if err != nil || len(versions) != 1 {
			t.Fatalf("versions = %v, err = %v", versions, err)
		}
	})

	t.Run("EmptyIndex", func(t *testing.T) {
		nb, err := store.FindNearest(ctx, []float32{0, 0})
		if err != nil || nb != nil {
			t.Fatalf("FindNearest on empty table = %+v, %v", nb, err)
		}
	})

	_, _, aliceEmb, alice := register(t, store, []float32{0, 0}, "Alice")
	bobPhoto, _, bobEmb, bob := register(t, store, []float32{10, 10}, "Bob")

	t.Run("FindNearest", func(t *testing.T) {
		nb, err := store.FindNearest(ctx, []float32{0.5, 0.5})
		if err != nil {
			t.Fatalf("FindNearest: %v", err)
		}
		if nb.EmbeddingID != aliceEmb || math.Abs(nb.Distance-math.Sqrt(0.5)) > 1e-6 {
			t.Errorf("got %+v, want Alice at ~0.707", nb)
		}

		nb, err = store.FindNearest(ctx, []float32{10, 10})
		if err != nil {
			t.Fatalf("FindNearest: %v", err)
		}
		if nb.EmbeddingID != bobEmb || nb.Distance != 0 {
			t.Errorf("got %+v, want Bob at 0", nb)
		}

		// equidistant: lowest id wins
		nb, err = store.FindNearest(ctx, []float32{5, 5})
		if err != nil {
			t.Fatalf("FindNearest: %v", err)
		}
		if nb.EmbeddingID != aliceEmb {
			t.Errorf("tie went to %d, want %d", nb.EmbeddingID, aliceEmb)
		}

		if _, err := store.FindNearest(ctx, []float32{1, 2, 3}); !errors.Is(err, identity.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("Constraints", func(t *testing.T) {
		photo, err := store.CreatePhoto(ctx, []byte("x"), "")
		if err != nil {
			t.Fatalf("CreatePhoto: %v", err)
		}
		var se *identity.StorageError
		if _, err := store.CreateFace(ctx, photo, models.BBox{Width: 0, Height: 1}, nil, nil); !errors.As(err, &se) {
			t.Errorf("zero width: expected *StorageError, got %v", err)
		}
		if _, err := store.CreateFace(ctx, 99999, models.BBox{Width: 1, Height: 1}, nil, nil); !errors.As(err, &se) {
			t.Errorf("missing photo: expected *StorageError, got %v", err)
		}
	})

	t.Run("TransactionRollsBack", func(t *testing.T) {
		before, _ := store.Stats(ctx)
		boom := errors.New("boom")
		err := store.WithTx(ctx, func(tx identity.Records) error {
			if _, err := tx.CreatePhoto(ctx, []byte("x"), ""); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		after, _ := store.Stats(ctx)
		if after != before {
			t.Errorf("stats changed from %+v to %+v", before, after)
		}
	})

	t.Run("ConcurrentRematch", func(t *testing.T) {
		const callers = 20
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.UpdateIdentityOnRematch(ctx, alice); err != nil {
					t.Errorf("rematch: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := store.GetIdentity(ctx, alice)
		if err != nil {
			t.Fatalf("GetIdentity: %v", err)
		}
		if got.TimesMet != callers+1 {
			t.Errorf("TimesMet = %d, want %d", got.TimesMet, callers+1)
		}
		if got.LastSeenAt.Before(got.FirstSeenAt) {
			t.Errorf("LastSeenAt %v before FirstSeenAt %v", got.LastSeenAt, got.FirstSeenAt)
		}
		if _, err := store.UpdateIdentityOnRematch(ctx, 99999); !errors.Is(err, identity.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GetIdentityByName", func(t *testing.T) {
		got, err := store.GetIdentityByName(ctx, "ALI")
		if err != nil || got == nil || got.ID != alice {
			t.Errorf("got %+v, %v; want Alice", got, err)
		}
		got, err = store.GetIdentityByName(ctx, "%")
		if err != nil || got != nil {
			t.Errorf("wildcard matched %+v, %v", got, err)
		}
	})

	t.Run("SaveTranscript", func(t *testing.T) {
		saved, idents, err := store.SaveTranscript(ctx, models.Transcript{
			PhotoID: bobPhoto, RawText: "I'm Robert", ExtractedName: "Robert", Context: "neighbour",
		})
		if err != nil {
			t.Fatalf("SaveTranscript: %v", err)
		}
		if saved.ID == 0 || len(idents) != 1 || idents[0].ID != bob || idents[0].Name != "Robert" {
			t.Errorf("saved = %+v, idents = %+v", saved, idents)
		}
		if _, _, err := store.SaveTranscript(ctx, models.Transcript{PhotoID: 99999}); !errors.Is(err, identity.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeletePhotoCascades", func(t *testing.T) {
		independent, err := store.CreateIdentity(ctx, nil, "Carol", "")
		if err != nil {
			t.Fatalf("CreateIdentity: %v", err)
		}

		removed, err := store.DeletePhoto(ctx, bobPhoto)
		if err != nil {
			t.Fatalf("DeletePhoto: %v", err)
		}
		if len(removed) != 1 || removed[0] != bobEmb {
			t.Errorf("removed = %v, want [%d]", removed, bobEmb)
		}
		if got, _ := store.GetIdentity(ctx, bob); got != nil {
			t.Error("Bob should be gone")
		}
		for _, id := range []int64{alice, independent} {
			if got, _ := store.GetIdentity(ctx, id); got == nil {
				t.Errorf("identity %d should survive", id)
			}
		}
		exists, err := store.ExistingEmbeddings(ctx, []int64{aliceEmb, bobEmb})
		if err != nil || !exists[aliceEmb] || exists[bobEmb] {
			t.Errorf("ExistingEmbeddings = %v, %v", exists, err)
		}
		if _, err := store.DeletePhoto(ctx, bobPhoto); !errors.Is(err, identity.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AllEmbeddings", func(t *testing.T) {
		var got []models.Embedding
		err := store.AllEmbeddings(ctx, func(e models.Embedding) error {
			got = append(got, e)
			return nil
		})
		if err != nil {
			t.Fatalf("AllEmbeddings: %v", err)
		}
		if len(got) != 1 || got[0].ID != aliceEmb || len(got[0].Vector) != 2 {
			t.Errorf("got %+v", got)
		}
	})
}
