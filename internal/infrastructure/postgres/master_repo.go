package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/harmonizeiq/backend/internal/domain"
)

const defaultEFSearch = 64

// MasterRepo reads the canonical product catalog. The catalog is maintained
// by ingestion; this repo never writes to it.
type MasterRepo struct {
	pool     *pgxpool.Pool
	efSearch int
}

// NewMasterRepo creates a catalog reader. efSearch tunes the HNSW candidate
// list size for nearest-neighbor queries.
func NewMasterRepo(pool *pgxpool.Pool, efSearch int) *MasterRepo {
	if efSearch <= 0 {
		efSearch = defaultEFSearch
	}
	return &MasterRepo{pool: pool, efSearch: efSearch}
}

// FindNearest returns up to k active master products ordered by ascending
// cosine distance to the query embedding. Equal distances are broken by id
// ascending so retrieval is deterministic.
func (r *MasterRepo) FindNearest(ctx context.Context, embedding []float32, k int) ([]domain.Candidate, error) {
	if len(embedding) == 0 {
		return nil, domain.ErrMissingEmbedding
	}
	if k <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin candidate query: %w", err)
	}
	defer tx.Rollback(ctx)

	// SET LOCAL keeps the tuning scoped to this transaction.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", r.efSearch)); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	const q = `
SELECT
	id, COALESCE(gtin, ''), name, brand, category,
	size_value, COALESCE(size_unit, ''), size_normalized,
	attributes, embedding, active, created_at, updated_at,
	(embedding <=> $1)::DOUBLE PRECISION AS distance
FROM master_products
WHERE active AND embedding IS NOT NULL
ORDER BY embedding <=> $1 ASC, id ASC
LIMIT $2
`

	rows, err := tx.Query(ctx, q, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]domain.Candidate, 0, k)
	for rows.Next() {
		var (
			c     domain.Candidate
			vec   pgvector.Vector
			attrs []byte
		)
		if err := rows.Scan(
			&c.Master.ID, &c.Master.GTIN, &c.Master.Name, &c.Master.Brand, &c.Master.Category,
			&c.Master.SizeValue, &c.Master.SizeUnit, &c.Master.SizeNormalized,
			&attrs, &vec, &c.Master.Active, &c.Master.CreatedAt, &c.Master.UpdatedAt,
			&c.Distance,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Master.Embedding = vec.Slice()
		if len(attrs) > 0 {
			_ = json.Unmarshal(attrs, &c.Master.Attributes)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit candidate query: %w", err)
	}
	return candidates, nil
}

// GetByID fetches one master product regardless of active flag.
func (r *MasterRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MasterProduct, error) {
	const q = `
SELECT
	id, COALESCE(gtin, ''), name, brand, category,
	size_value, COALESCE(size_unit, ''), size_normalized,
	attributes, active, created_at, updated_at
FROM master_products
WHERE id = $1
`
	var (
		m     domain.MasterProduct
		attrs []byte
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&m.ID, &m.GTIN, &m.Name, &m.Brand, &m.Category,
		&m.SizeValue, &m.SizeUnit, &m.SizeNormalized,
		&attrs, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: master product %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get master product: %w", err)
	}
	if len(attrs) > 0 {
		_ = json.Unmarshal(attrs, &m.Attributes)
	}
	return &m, nil
}
