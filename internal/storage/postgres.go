package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

// candidateLimit is how many rows the HNSW scan hands to the exact
// distance/id ordering.
const candidateLimit = 16

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// records implements identity.Records against either the pool or a transaction.
type records struct {
	q         querier
	dimension int
}

type PostgresStore struct {
	records
	pool      *pgxpool.Pool
	dimension int
	efSearch  int
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{
		records:   records{q: pool, dimension: cfg.EmbeddingDim},
		pool:      pool,
		dimension: cfg.EmbeddingDim,
		efSearch:  cfg.EfSearch,
	}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(identity.Records) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(records{q: tx, dimension: s.dimension})
	})
	return identity.Storage("transaction", err)
}

// pgError maps constraint violations and connection faults to *identity.StorageError.
func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return identity.Storage(op, fmt.Errorf("%s (%s): %w", pgErr.ConstraintName, pgErr.Code, err))
	}
	return identity.Storage(op, err)
}

// --- Photos / faces / embeddings ---

func (r records) CreatePhoto(ctx context.Context, data []byte, filename string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO photos (image_data, filename) VALUES ($1, NULLIF($2, '')) RETURNING id`,
		data, filename,
	).Scan(&id)
	if err != nil {
		return 0, pgError("create photo", err)
	}
	return id, nil
}

func (r records) CreateFace(ctx context.Context, photoID int64, bbox models.BBox, crop []byte, confidence *float64) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO faces (photo_id, x, y, width, height, crop_data, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		photoID, bbox.X, bbox.Y, bbox.Width, bbox.Height, crop, confidence,
	).Scan(&id)
	if err != nil {
		return 0, pgError("create face", err)
	}
	return id, nil
}

func (r records) CreateEmbedding(ctx context.Context, faceID int64, vector []float32, modelName string) (int64, error) {
	if err := identity.CheckDimension(vector, r.dimension); err != nil {
		return 0, err
	}
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO embeddings (face_id, vector, model_name) VALUES ($1, $2, $3) RETURNING id`,
		faceID, pgvector.NewVector(vector), modelName,
	).Scan(&id)
	if err != nil {
		return 0, pgError("create embedding", err)
	}
	return id, nil
}

// --- Identities ---

const identityColumns = `id, face_id, name, context, first_seen_at, last_seen_at, times_met`

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	i := &models.Identity{}
	err := row.Scan(&i.ID, &i.FaceID, &i.Name, &i.Context, &i.FirstSeenAt, &i.LastSeenAt, &i.TimesMet)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r records) CreateIdentity(ctx context.Context, faceID *int64, name, details string) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx,
		`INSERT INTO identities (face_id, name, context) VALUES ($1, $2, $3) RETURNING id`,
		faceID, name, details,
	).Scan(&id)
	if err != nil {
		return 0, pgError("create identity", err)
	}
	return id, nil
}

func (r records) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	i, err := scanIdentity(r.q.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, pgError("get identity", err)
	}
	return i, nil
}

func (s *PostgresStore) GetIdentityByFaceID(ctx context.Context, faceID int64) (*models.Identity, error) {
	i, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE face_id = $1`, faceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, pgError("get identity by face", err)
	}
	return i, nil
}

// escapeLike makes text match literally inside an ILIKE pattern.
func escapeLike(text string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
}

func (s *PostgresStore) GetIdentityByName(ctx context.Context, text string) (*models.Identity, error) {
	i, err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities
		 WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'
		 ORDER BY last_seen_at DESC, id DESC
		 LIMIT 1`, escapeLike(text)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, pgError("get identity by name", err)
	}
	return i, nil
}

// UpdateIdentityOnRematch is a single statement so concurrent rematches of
// the same identity serialize on the row lock.
func (s *PostgresStore) UpdateIdentityOnRematch(ctx context.Context, id int64) (*models.Identity, error) {
	i, err := scanIdentity(s.pool.QueryRow(ctx,
		`UPDATE identities
		 SET times_met = times_met + 1, last_seen_at = GREATEST(last_seen_at, NOW())
		 WHERE id = $1
		 RETURNING `+identityColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("rematch identity %d: %w", id, identity.ErrNotFound)
		}
		return nil, pgError("rematch identity", err)
	}
	return i, nil
}

func (s *PostgresStore) UpdateIdentityDetails(ctx context.Context, id int64, upd identity.DetailsUpdate) (*models.Identity, error) {
	i, err := scanIdentity(s.pool.QueryRow(ctx,
		`UPDATE identities
		 SET name = COALESCE($2, name), context = COALESCE($3, context)
		 WHERE id = $1
		 RETURNING `+identityColumns, id, upd.Name, upd.Context))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update identity %d: %w", id, identity.ErrNotFound)
		}
		return nil, pgError("update identity", err)
	}
	return i, nil
}

// --- Transcripts ---

func (s *PostgresStore) SaveTranscript(ctx context.Context, t models.Transcript) (*models.Transcript, []models.Identity, error) {
	var updated []models.Identity
	saved := t

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM photos WHERE id = $1)`, t.PhotoID).Scan(&exists); err != nil {
			return pgError("save transcript", err)
		}
		if !exists {
			return fmt.Errorf("save transcript for photo %d: %w", t.PhotoID, identity.ErrNotFound)
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO transcripts (photo_id, raw_text, extracted_name, context)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (photo_id) DO UPDATE
			 SET raw_text = EXCLUDED.raw_text, extracted_name = EXCLUDED.extracted_name, context = EXCLUDED.context
			 RETURNING id, created_at`,
			t.PhotoID, t.RawText, t.ExtractedName, t.Context,
		).Scan(&saved.ID, &saved.CreatedAt)
		if err != nil {
			return pgError("save transcript", err)
		}

		rows, err := tx.Query(ctx,
			`UPDATE identities i
			 SET name = COALESCE(NULLIF($2, ''), i.name), context = COALESCE(NULLIF($3, ''), i.context)
			 FROM faces f
			 WHERE i.face_id = f.id AND f.photo_id = $1
			 RETURNING i.id, i.face_id, i.name, i.context, i.first_seen_at, i.last_seen_at, i.times_met`,
			t.PhotoID, t.ExtractedName, t.Context)
		if err != nil {
			return pgError("apply transcript", err)
		}
		defer rows.Close()
		for rows.Next() {
			i, err := scanIdentity(rows)
			if err != nil {
				return pgError("scan identity", err)
			}
			updated = append(updated, *i)
		}
		if err := rows.Err(); err != nil {
			return pgError("apply transcript", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, identity.Storage("save transcript", err)
	}

	sort.Slice(updated, func(a, b int) bool { return updated[a].ID < updated[b].ID })
	return &saved, updated, nil
}

// --- Deletion / stats ---

func (s *PostgresStore) DeletePhoto(ctx context.Context, photoID int64) ([]int64, error) {
	var removed []int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT e.id FROM embeddings e JOIN faces f ON f.id = e.face_id
			 WHERE f.photo_id = $1 ORDER BY e.id FOR UPDATE OF e`, photoID)
		if err != nil {
			return pgError("delete photo", err)
		}
		removed, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return pgError("delete photo", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM photos WHERE id = $1`, photoID)
		if err != nil {
			return pgError("delete photo", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("delete photo %d: %w", photoID, identity.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, identity.Storage("delete photo", err)
	}
	return removed, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (identity.Stats, error) {
	var st identity.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM photos),
		        (SELECT COUNT(*) FROM faces),
		        (SELECT COUNT(*) FROM embeddings),
		        (SELECT COUNT(*) FROM identities),
		        (SELECT COUNT(*) FROM transcripts)`,
	).Scan(&st.Photos, &st.Faces, &st.Embeddings, &st.Identities, &st.Transcripts)
	if err != nil {
		return st, pgError("stats", err)
	}
	return st, nil
}

// --- Nearest neighbour ---

// FindNearest orders an HNSW candidate scan by exact L2 distance then id.
func (s *PostgresStore) FindNearest(ctx context.Context, query []float32) (*identity.Neighbor, error) {
	if err := identity.CheckDimension(query, s.dimension); err != nil {
		return nil, err
	}

	var nb *identity.Neighbor
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if s.efSearch > 0 {
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", s.efSearch)); err != nil {
				return pgError("set ef_search", err)
			}
		}

		var n identity.Neighbor
		err := tx.QueryRow(ctx,
			`WITH candidates AS (
			     SELECT id, face_id, vector <-> $1 AS distance
			     FROM embeddings
			     ORDER BY vector <-> $1
			     LIMIT $2
			 )
			 SELECT id, face_id, distance FROM candidates
			 ORDER BY distance, id
			 LIMIT 1`,
			pgvector.NewVector(query), candidateLimit,
		).Scan(&n.EmbeddingID, &n.FaceID, &n.Distance)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return pgError("find nearest", err)
		}
		nb = &n
		return nil
	})
	if err != nil {
		return nil, identity.Storage("find nearest", err)
	}
	return nb, nil
}

// AllEmbeddings streams every embedding in id order.
func (s *PostgresStore) AllEmbeddings(ctx context.Context, fn func(models.Embedding) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, face_id, vector, model_name, created_at FROM embeddings ORDER BY id`)
	if err != nil {
		return pgError("list embeddings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.Embedding
		var vec pgvector.Vector
		if err := rows.Scan(&e.ID, &e.FaceID, &vec, &e.ModelName, &e.CreatedAt); err != nil {
			return pgError("scan embedding", err)
		}
		e.Vector = vec.Slice()
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return pgError("list embeddings", err)
	}
	return nil
}

func (s *PostgresStore) ExistingEmbeddings(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM embeddings WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, pgError("check embeddings", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, pgError("check embeddings", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}
