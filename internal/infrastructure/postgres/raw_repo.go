package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harmonizeiq/backend/internal/domain"
)

// RawRepo persists raw retailer records and their claim lifecycle.
type RawRepo struct {
	pool *pgxpool.Pool
}

// NewRawRepo creates a raw record store.
func NewRawRepo(pool *pgxpool.Pool) *RawRepo {
	return &RawRepo{pool: pool}
}

// ClaimPending atomically flips up to limit pending records to processing and
// returns them. FOR UPDATE SKIP LOCKED guarantees two concurrent batch runs
// never claim the same record.
func (r *RawRepo) ClaimPending(ctx context.Context, limit int) ([]domain.RawRecord, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	const q = `
UPDATE raw_records
SET status = 'processing', updated_at = now()
WHERE id IN (
	SELECT id FROM raw_records
	WHERE status = 'pending'
	ORDER BY created_at ASC, id ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING
	id, source_system, external_sku, raw_description,
	COALESCE(normalized_description, ''), COALESCE(parsed_brand, ''),
	parsed_size, status, created_at, updated_at
`

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.RawRecord, 0, limit)
	for rows.Next() {
		var rec domain.RawRecord
		if err := rows.Scan(
			&rec.ID, &rec.SourceSystem, &rec.ExternalSKU, &rec.RawDescription,
			&rec.NormalizedDescription, &rec.ParsedBrand,
			&rec.ParsedSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed records: %w", err)
	}
	return records, nil
}

// ReleaseClaims returns claimed records to pending. Only records still in
// processing are touched, so already-committed rows are left alone.
func (r *RawRepo) ReleaseClaims(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
UPDATE raw_records
SET status = 'pending', updated_at = now()
WHERE id = ANY($1) AND status = 'processing'
`
	if _, err := r.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("release claims: %w", err)
	}
	return nil
}

// MarkFailed records that processing of the given records failed.
func (r *RawRepo) MarkFailed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
UPDATE raw_records
SET status = 'failed', updated_at = now()
WHERE id = ANY($1)
`
	if _, err := r.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("mark records failed: %w", err)
	}
	return nil
}

// GetByID fetches one raw record.
func (r *RawRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RawRecord, error) {
	const q = `
SELECT
	id, source_system, external_sku, raw_description,
	COALESCE(normalized_description, ''), COALESCE(parsed_brand, ''),
	parsed_size, status, created_at, updated_at
FROM raw_records
WHERE id = $1
`
	var rec domain.RawRecord
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &rec.SourceSystem, &rec.ExternalSKU, &rec.RawDescription,
		&rec.NormalizedDescription, &rec.ParsedBrand,
		&rec.ParsedSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: raw record %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get raw record: %w", err)
	}
	return &rec, nil
}

// Counts returns per-status record counts and overall progress.
func (r *RawRepo) Counts(ctx context.Context) (*domain.ProcessingStatus, error) {
	const q = `
SELECT status, COUNT(*)
FROM raw_records
GROUP BY status
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	status := &domain.ProcessingStatus{}
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan record count: %w", err)
		}
		status.Total += n
		switch domain.RecordStatus(s) {
		case domain.RecordPending:
			status.Pending = n
		case domain.RecordProcessing:
			status.Processing = n
		case domain.RecordProcessed:
			status.Processed = n
		case domain.RecordFailed:
			status.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record counts: %w", err)
	}

	if status.Total > 0 {
		status.ProgressPercent = float64(status.Processed+status.Failed) / float64(status.Total) * 100
	}
	return status, nil
}
