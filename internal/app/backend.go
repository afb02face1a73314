// Package app assembles the record store, embedding index and engine from
// configuration for the service binaries and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/index"
	"github.com/your-org/visage/internal/storage"
)

type store interface {
	identity.Store
	index.Source
	Ping(ctx context.Context) error
	Close()
}

// Backend is the configured persistence side of the engine.
type Backend struct {
	Store identity.Store
	Index identity.Index

	db    store
	pg    *storage.PostgresStore
	local *index.Index
	cfg   *config.Config
}

// OpenBackend connects the record store and builds the index. Postgres
// schemas are migrated when migrate is set.
func OpenBackend(ctx context.Context, cfg *config.Config, migrate bool) (*Backend, error) {
	b := &Backend{cfg: cfg}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		b.db = storage.NewMemoryStore(cfg.Database.EmbeddingDim)
		slog.Warn("using in-memory record store; data is lost on exit")
	default:
		pg, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		b.db, b.pg = pg, pg
	}
	b.Store = b.db

	if cfg.Recognition.Index == "postgres" {
		b.Index = b.pg
		return b, nil
	}

	idx, err := index.New(b.db, index.Options{
		Kind:      cfg.Recognition.Index,
		Dimension: cfg.Database.EmbeddingDim,
		M:         cfg.Recognition.HNSWM,
		EfSearch:  cfg.Recognition.HNSWEf,
	})
	if err != nil {
		b.db.Close()
		return nil, err
	}
	if err := idx.Load(ctx); err != nil {
		b.db.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}
	b.local, b.Index = idx, idx
	return b, nil
}

// Run keeps an in-process index in step with writes made by other processes.
// It returns immediately when the database does the search.
func (b *Backend) Run(ctx context.Context) {
	if b.local == nil {
		return
	}
	b.local.Run(ctx, b.cfg.Recognition.IndexRefresh)
}

// Engine builds an engine over this backend.
func (b *Backend) Engine(x identity.Extractor) *identity.Engine {
	return identity.NewEngine(b.Store, b.Index, x, identity.Options{
		Threshold: b.cfg.Recognition.Threshold,
		ModelName: b.cfg.Recognition.ModelName,
		Dimension: b.cfg.Database.EmbeddingDim,
	})
}

// Postgres returns the Postgres store, or nil for the memory driver.
func (b *Backend) Postgres() *storage.PostgresStore {
	return b.pg
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.Ping(ctx)
}

func (b *Backend) Close() {
	b.db.Close()
}

// Source exposes the store's embedding scan for tools that build their own index.
func (b *Backend) Source() index.Source {
	return b.db
}
