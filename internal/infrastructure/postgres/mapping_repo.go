package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/harmonizeiq/backend/internal/domain"
)

// MappingRepo persists equivalence mappings and their audit trail. All
// status-changing writes go through single-statement upserts or row-locked
// updates so concurrent mutations for the same (master, raw) pair serialize
// in the database.
type MappingRepo struct {
	pool *pgxpool.Pool
}

// NewMappingRepo creates a mapping store.
func NewMappingRepo(pool *pgxpool.Pool) *MappingRepo {
	return &MappingRepo{pool: pool}
}

// upsertSQL refreshes scores unconditionally but preserves human decisions.
// The sticky set comes from domain.StickyStatuses so the SQL cannot drift
// from the Go predicate.
var upsertSQL = fmt.Sprintf(`
INSERT INTO equivalence_mappings (
	id, master_id, raw_id, semantic_score, attribute_score, final_confidence,
	status, low_confidence, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
ON CONFLICT (master_id, raw_id) DO UPDATE SET
	semantic_score   = EXCLUDED.semantic_score,
	attribute_score  = EXCLUDED.attribute_score,
	final_confidence = EXCLUDED.final_confidence,
	low_confidence   = EXCLUDED.low_confidence,
	status = CASE
		WHEN equivalence_mappings.status IN (%s)
		THEN equivalence_mappings.status
		ELSE EXCLUDED.status
	END,
	updated_at = now()
RETURNING id, status, (xmax = 0) AS inserted
`, stickyStatusList())

func stickyStatusList() string {
	quoted := make([]string, 0, len(domain.StickyStatuses()))
	for _, s := range domain.StickyStatuses() {
		quoted = append(quoted, "'"+string(s)+"'")
	}
	return strings.Join(quoted, ", ")
}

// CommitRecord persists one processed record and its scored candidates in a
// single transaction, so a crash mid-record never leaves a half-written
// mapping.
func (r *MappingRepo) CommitRecord(ctx context.Context, rec *domain.RawRecord, scored []domain.ScoredCandidate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record commit: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateRecord = `
UPDATE raw_records
SET embedding = $2, normalized_description = $3, parsed_brand = $4,
    parsed_size = $5, status = $6, updated_at = now()
WHERE id = $1
`
	tag, err := tx.Exec(ctx, updateRecord,
		rec.ID, pgvector.NewVector(rec.Embedding), rec.NormalizedDescription,
		rec.ParsedBrand, rec.ParsedSize, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("update raw record: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: raw record %s", domain.ErrNotFound, rec.ID)
	}

	for _, sc := range scored {
		var (
			mappingID uuid.UUID
			status    domain.MappingStatus
			inserted  bool
		)
		err := tx.QueryRow(ctx, upsertSQL,
			uuid.New(), sc.MasterID, rec.ID,
			sc.Scores.Semantic, sc.Scores.Attribute, sc.Scores.Confidence,
			sc.Status, sc.LowConfidence,
		).Scan(&mappingID, &status, &inserted)
		if err != nil {
			return fmt.Errorf("upsert mapping: %w", mapPgError(err))
		}

		if inserted {
			detail := map[string]any{
				"semantic_score":   sc.Scores.Semantic,
				"attribute_score":  sc.Scores.Attribute,
				"final_confidence": sc.Scores.Confidence,
				"low_confidence":   sc.LowConfidence,
			}
			if err := insertAuditEvent(ctx, tx, mappingID, domain.AuditCreate, nil, status, detail, "system"); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Approve marks a mapping verified and audits the decision.
func (r *MappingRepo) Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) (*domain.EquivalenceMapping, error) {
	return r.review(ctx, id, domain.StatusVerified, reviewer, notes, nil)
}

// Reject marks a mapping rejected. When alternativeMasterID is set, a manual
// mapping for (alternative, raw) is upserted in the same transaction; a prior
// rejected row for that pair is converted rather than duplicated.
func (r *MappingRepo) Reject(ctx context.Context, id uuid.UUID, reviewer, notes string, alternativeMasterID *uuid.UUID) (*domain.EquivalenceMapping, error) {
	return r.review(ctx, id, domain.StatusRejected, reviewer, notes, alternativeMasterID)
}

func (r *MappingRepo) review(ctx context.Context, id uuid.UUID, target domain.MappingStatus, reviewer, notes string, alternativeMasterID *uuid.UUID) (*domain.EquivalenceMapping, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin review: %w", err)
	}
	defer tx.Rollback(ctx)

	var current domain.MappingStatus
	var rawID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT status, raw_id FROM equivalence_mappings WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current, &rawID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: mapping %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lock mapping: %w", err)
	}
	if current.Terminal() {
		return nil, fmt.Errorf("%w: mapping %s is %s", domain.ErrInvalidTransition, id, current)
	}

	const q = `
UPDATE equivalence_mappings
SET status = $2, reviewer = $3, reviewed_at = now(), review_notes = $4, updated_at = now()
WHERE id = $1
`
	if _, err := tx.Exec(ctx, q, id, target, reviewer, notes); err != nil {
		return nil, fmt.Errorf("update mapping status: %w", mapPgError(err))
	}

	prev := current
	detail := map[string]any{"notes": notes}
	if alternativeMasterID != nil {
		detail["alternative_master_id"] = alternativeMasterID.String()
	}
	if err := insertAuditEvent(ctx, tx, id, domain.AuditReview, &prev, target, detail, reviewer); err != nil {
		return nil, err
	}

	if target == domain.StatusRejected && alternativeMasterID != nil {
		if err := r.upsertManualTx(ctx, tx, *alternativeMasterID, rawID, reviewer, notes, false, ""); err != nil {
			return nil, err
		}
	}

	mapping, err := getMappingTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit review: %w", err)
	}
	return mapping, nil
}

// CreateManual forces a manual mapping for (master, raw), superseding any
// automated result for the pair.
func (r *MappingRepo) CreateManual(ctx context.Context, masterID, rawID uuid.UUID, reviewer, notes string, competitor bool, competitorBrand string) (*domain.EquivalenceMapping, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin manual mapping: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.upsertManualTx(ctx, tx, masterID, rawID, reviewer, notes, competitor, competitorBrand); err != nil {
		return nil, err
	}

	var id uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM equivalence_mappings WHERE master_id = $1 AND raw_id = $2`, masterID, rawID,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("load manual mapping: %w", err)
	}
	mapping, err := getMappingTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit manual mapping: %w", err)
	}
	return mapping, nil
}

// upsertManualTx converts or creates the (master, raw) row to manual through
// the conflict target, and audits the action.
func (r *MappingRepo) upsertManualTx(ctx context.Context, tx pgx.Tx, masterID, rawID uuid.UUID, reviewer, notes string, competitor bool, competitorBrand string) error {
	var prevStatus *domain.MappingStatus
	var existing domain.MappingStatus
	err := tx.QueryRow(ctx,
		`SELECT status FROM equivalence_mappings WHERE master_id = $1 AND raw_id = $2 FOR UPDATE`,
		masterID, rawID,
	).Scan(&existing)
	if err == nil {
		prevStatus = &existing
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock manual target: %w", err)
	}

	const q = `
INSERT INTO equivalence_mappings (
	id, master_id, raw_id, status, reviewer, reviewed_at, review_notes,
	competitor, competitor_brand, created_at, updated_at
) VALUES ($1, $2, $3, 'manual', $4, now(), $5, $6, $7, now(), now())
ON CONFLICT (master_id, raw_id) DO UPDATE SET
	status           = 'manual',
	reviewer         = EXCLUDED.reviewer,
	reviewed_at      = now(),
	review_notes     = EXCLUDED.review_notes,
	competitor       = EXCLUDED.competitor,
	competitor_brand = EXCLUDED.competitor_brand,
	updated_at       = now()
RETURNING id
`
	var mappingID uuid.UUID
	err = tx.QueryRow(ctx, q,
		uuid.New(), masterID, rawID, reviewer, notes, competitor, nullableString(competitorBrand),
	).Scan(&mappingID)
	if err != nil {
		return fmt.Errorf("upsert manual mapping: %w", mapPgError(err))
	}

	detail := map[string]any{"notes": notes, "competitor": competitor}
	return insertAuditEvent(ctx, tx, mappingID, domain.AuditCreate, prevStatus, domain.StatusManual, detail, reviewer)
}

// GetByID fetches one mapping.
func (r *MappingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.EquivalenceMapping, error) {
	mapping, err := getMapping(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// ListPending returns mappings ordered by final confidence descending. The
// default status filter is pending; callers may filter by any status and by
// confidence range.
func (r *MappingRepo) ListPending(ctx context.Context, filter domain.MappingFilter, page domain.Page) ([]domain.EquivalenceMapping, int, error) {
	status := filter.Status
	if status == "" {
		status = domain.StatusPending
	}

	where := []string{"status = $1"}
	args := []any{status}
	if filter.MinConfidence != nil {
		args = append(args, *filter.MinConfidence)
		where = append(where, fmt.Sprintf("final_confidence >= $%d", len(args)))
	}
	if filter.MaxConfidence != nil {
		args = append(args, *filter.MaxConfidence)
		where = append(where, fmt.Sprintf("final_confidence <= $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQ := "SELECT COUNT(*) FROM equivalence_mappings WHERE " + whereClause
	if err := r.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count mappings: %w", err)
	}

	args = append(args, page.Size, (page.Number-1)*page.Size)
	listQ := fmt.Sprintf(`
SELECT %s
FROM equivalence_mappings
WHERE %s
ORDER BY final_confidence DESC, id ASC
LIMIT $%d OFFSET $%d
`, mappingColumns, whereClause, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, listQ, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]domain.EquivalenceMapping, 0, page.Size)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, err
		}
		mappings = append(mappings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate mappings: %w", err)
	}
	return mappings, total, nil
}

// BulkReclassify promotes pending mappings at or above the promote threshold
// to auto_confirmed and reports, without mutating, the pending count still
// below the flag threshold.
func (r *MappingRepo) BulkReclassify(ctx context.Context, promote, flag float64, reviewer string) (*domain.ReclassifyResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reclassification: %w", err)
	}
	defer tx.Rollback(ctx)

	const promoteQ = `
UPDATE equivalence_mappings
SET status = 'auto_confirmed', low_confidence = FALSE, updated_at = now()
WHERE status = 'pending' AND final_confidence >= $1
RETURNING id, final_confidence
`
	rows, err := tx.Query(ctx, promoteQ, promote)
	if err != nil {
		return nil, fmt.Errorf("promote mappings: %w", err)
	}

	type promoted struct {
		id         uuid.UUID
		confidence float64
	}
	var promotedRows []promoted
	for rows.Next() {
		var p promoted
		if err := rows.Scan(&p.id, &p.confidence); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan promoted mapping: %w", err)
		}
		promotedRows = append(promotedRows, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promoted mappings: %w", err)
	}

	prev := domain.StatusPending
	for _, p := range promotedRows {
		detail := map[string]any{"final_confidence": p.confidence, "promote_threshold": promote}
		if err := insertAuditEvent(ctx, tx, p.id, domain.AuditReview, &prev, domain.StatusAutoConfirmed, detail, reviewer); err != nil {
			return nil, err
		}
	}

	result := &domain.ReclassifyResult{Promoted: len(promotedRows)}
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM equivalence_mappings WHERE status = 'pending' AND final_confidence < $1`,
		flag,
	).Scan(&result.BelowFlagCount)
	if err != nil {
		return nil, fmt.Errorf("count below flag: %w", err)
	}
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM equivalence_mappings WHERE status = 'pending'`,
	).Scan(&result.RemainingPending)
	if err != nil {
		return nil, fmt.Errorf("count remaining pending: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reclassification: %w", err)
	}
	return result, nil
}

// ListAuditEvents returns a mapping's audit trail oldest first.
func (r *MappingRepo) ListAuditEvents(ctx context.Context, mappingID uuid.UUID) ([]domain.AuditEvent, error) {
	const q = `
SELECT id, mapping_id, action, previous_status, new_status, detail, actor, created_at
FROM audit_events
WHERE mapping_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.pool.Query(ctx, q, mappingID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e      domain.AuditEvent
			prev   *string
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.MappingID, &e.Action, &prev, &e.NewStatus, &detail, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if prev != nil {
			s := domain.MappingStatus(*prev)
			e.PreviousStatus = &s
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

const mappingColumns = `
	id, master_id, raw_id, semantic_score, attribute_score, final_confidence,
	status, low_confidence, COALESCE(reviewer, ''), reviewed_at,
	COALESCE(review_notes, ''), competitor, COALESCE(competitor_brand, ''),
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*domain.EquivalenceMapping, error) {
	var m domain.EquivalenceMapping
	var reviewedAt *time.Time
	if err := row.Scan(
		&m.ID, &m.MasterID, &m.RawID, &m.SemanticScore, &m.AttributeScore, &m.FinalConfidence,
		&m.Status, &m.LowConfidence, &m.Reviewer, &reviewedAt,
		&m.ReviewNotes, &m.Competitor, &m.CompetitorBrand,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	m.ReviewedAt = reviewedAt
	return &m, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getMapping(ctx context.Context, q queryRower, id uuid.UUID) (*domain.EquivalenceMapping, error) {
	query := "SELECT " + mappingColumns + " FROM equivalence_mappings WHERE id = $1"
	m, err := scanMapping(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: mapping %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return m, nil
}

func getMappingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.EquivalenceMapping, error) {
	return getMapping(ctx, tx, id)
}

func insertAuditEvent(ctx context.Context, tx pgx.Tx, mappingID uuid.UUID, action domain.AuditAction, prev *domain.MappingStatus, next domain.MappingStatus, detail map[string]any, actor string) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	const q = `
INSERT INTO audit_events (id, mapping_id, action, previous_status, new_status, detail, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
`
	if _, err := tx.Exec(ctx, q, uuid.New(), mappingID, action, prev, next, payload, actor); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// mapPgError translates unique-constraint violations hit outside the upsert
// path into ErrConflictViolation so they surface loudly.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", domain.ErrConflictViolation, pgErr.ConstraintName)
	}
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
