package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// NormalizeInput is one description to normalize, with an optional retailer
// hint that helps the gateway resolve retailer-specific abbreviations.
type NormalizeInput struct {
	Text         string `json:"text"`
	RetailerHint string `json:"retailerHint,omitempty"`
}

// EmbeddingGateway defines the interface for the external NLP service that
// turns text into vectors and normalizes retailer descriptions.
type EmbeddingGateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch is order-preserving: result[i] is the vector for texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Normalize(ctx context.Context, input NormalizeInput) (*NormalizedText, error)
	// NormalizeBatch is order-preserving: result[i] normalizes inputs[i].
	NormalizeBatch(ctx context.Context, inputs []NormalizeInput) ([]NormalizedText, error)
	HealthCheck(ctx context.Context) bool
}

// MasterCatalog is the read-only view of master products used for candidate
// retrieval.
type MasterCatalog interface {
	// FindNearest returns up to k active master products with embeddings,
	// ordered by ascending cosine distance to the query vector. Ties are
	// broken by master id ascending.
	FindNearest(ctx context.Context, embedding []float32, k int) ([]Candidate, error)
	GetByID(ctx context.Context, id uuid.UUID) (*MasterProduct, error)
}

// RawRecordStore persists raw retailer records and their claim lifecycle.
type RawRecordStore interface {
	// ClaimPending atomically flips up to limit pending records to
	// processing and returns them. Two concurrent batch runs never claim
	// the same record.
	ClaimPending(ctx context.Context, limit int) ([]RawRecord, error)
	// ReleaseClaims returns claimed records to pending, e.g. after a
	// batch-level gateway failure or cancellation.
	ReleaseClaims(ctx context.Context, ids []uuid.UUID) error
	MarkFailed(ctx context.Context, ids []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*RawRecord, error)
	Counts(ctx context.Context) (*ProcessingStatus, error)
}

// MappingStore persists equivalence mappings and their audit trail. Mappings
// are never deleted; corrections supersede status.
type MappingStore interface {
	// CommitRecord atomically persists a processed record (embedding,
	// normalized text, parsed attributes, status processed) together with
	// the upserts for all of its scored candidates and the create audit
	// events for newly inserted mappings. Sticky statuses (verified,
	// manual) are preserved; scores are always refreshed.
	CommitRecord(ctx context.Context, rec *RawRecord, scored []ScoredCandidate) error

	GetByID(ctx context.Context, id uuid.UUID) (*EquivalenceMapping, error)
	// ListPending returns mappings ordered by final confidence descending.
	ListPending(ctx context.Context, filter MappingFilter, page Page) ([]EquivalenceMapping, int, error)

	Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) (*EquivalenceMapping, error)
	Reject(ctx context.Context, id uuid.UUID, reviewer, notes string, alternativeMasterID *uuid.UUID) (*EquivalenceMapping, error)
	CreateManual(ctx context.Context, masterID, rawID uuid.UUID, reviewer, notes string, competitor bool, competitorBrand string) (*EquivalenceMapping, error)
	// BulkReclassify promotes pending mappings with confidence >= promote
	// to auto_confirmed and reports, without mutating, how many pending
	// mappings remain below flag.
	BulkReclassify(ctx context.Context, promote, flag float64, reviewer string) (*ReclassifyResult, error)

	ListAuditEvents(ctx context.Context, mappingID uuid.UUID) ([]AuditEvent, error)
}
