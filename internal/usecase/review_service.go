package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/harmonizeiq/backend/internal/domain"
	"github.com/harmonizeiq/backend/internal/platform/logger"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// ReviewService exposes the human-in-the-loop workflow: listing pending
// mappings, approving, rejecting, manual overrides, and bulk reclassification.
// Every mutation is audited by the store; nothing is ever deleted.
type ReviewService struct {
	mappings   domain.MappingStore
	catalog    domain.MasterCatalog
	rawStore   domain.RawRecordStore
	classifier *Classifier
	log        *logger.Logger
}

// NewReviewService creates a review service with its dependencies.
func NewReviewService(
	mappings domain.MappingStore,
	catalog domain.MasterCatalog,
	rawStore domain.RawRecordStore,
	classifier *Classifier,
	log *logger.Logger,
) *ReviewService {
	return &ReviewService{
		mappings:   mappings,
		catalog:    catalog,
		rawStore:   rawStore,
		classifier: classifier,
		log:        log.With("component", "review"),
	}
}

// ListPending returns mappings awaiting review, highest confidence first.
func (s *ReviewService) ListPending(ctx context.Context, filter domain.MappingFilter, page domain.Page) ([]domain.EquivalenceMapping, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, domain.ErrInvalidRequest
	}
	if page.Number <= 0 {
		page.Number = 1
	}
	if page.Size <= 0 {
		page.Size = defaultPageSize
	}
	if page.Size > maxPageSize {
		page.Size = maxPageSize
	}
	return s.mappings.ListPending(ctx, filter, page)
}

// Approve marks a mapping verified. The decision is sticky: automated
// re-scoring may refresh scores afterwards but never the status.
func (s *ReviewService) Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) (*domain.EquivalenceMapping, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidRequest
	}
	mapping, err := s.mappings.Approve(ctx, id, reviewer, notes)
	if err != nil {
		return nil, err
	}
	s.log.Info("mapping approved", "mapping_id", id, "reviewer", reviewer)
	return mapping, nil
}

// Reject marks a mapping rejected. When an alternative master is supplied,
// a manual mapping for (alternative, raw) is created through the upsert path,
// converting any prior rejected row for that pair instead of duplicating it.
func (s *ReviewService) Reject(ctx context.Context, id uuid.UUID, reviewer, notes string, alternativeMasterID *uuid.UUID) (*domain.EquivalenceMapping, error) {
	if id == uuid.Nil {
		return nil, domain.ErrInvalidRequest
	}
	if alternativeMasterID != nil {
		if *alternativeMasterID == uuid.Nil {
			return nil, domain.ErrInvalidRequest
		}
		if _, err := s.catalog.GetByID(ctx, *alternativeMasterID); err != nil {
			return nil, err
		}
	}
	mapping, err := s.mappings.Reject(ctx, id, reviewer, notes, alternativeMasterID)
	if err != nil {
		return nil, err
	}
	s.log.Info("mapping rejected", "mapping_id", id, "reviewer", reviewer,
		"redirected", alternativeMasterID != nil)
	return mapping, nil
}

// CreateManual forces a manual mapping between a master and a raw record,
// superseding any automated result for the pair.
func (s *ReviewService) CreateManual(ctx context.Context, masterID, rawID uuid.UUID, reviewer, notes string, competitor bool, competitorBrand string) (*domain.EquivalenceMapping, error) {
	if masterID == uuid.Nil || rawID == uuid.Nil {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := s.catalog.GetByID(ctx, masterID); err != nil {
		return nil, err
	}
	if _, err := s.rawStore.GetByID(ctx, rawID); err != nil {
		return nil, err
	}
	mapping, err := s.mappings.CreateManual(ctx, masterID, rawID, reviewer, notes, competitor, competitorBrand)
	if err != nil {
		return nil, err
	}
	s.log.Info("manual mapping created", "mapping_id", mapping.ID,
		"master_id", masterID, "raw_id", rawID, "reviewer", reviewer)
	return mapping, nil
}

// BulkReclassify promotes pending mappings at or above the promote threshold
// to auto_confirmed and reports how many remain below the flag threshold.
// Missing thresholds fall back to the classifier's configured pair.
func (s *ReviewService) BulkReclassify(ctx context.Context, promote, flag float64, reviewer string) (*domain.ReclassifyResult, error) {
	if promote <= 0 {
		promote = s.classifier.AutoConfirmThreshold()
	}
	if flag <= 0 {
		flag = s.classifier.ReviewThreshold()
	}
	if promote > 1 || flag > 1 || flag > promote {
		return nil, domain.ErrInvalidRequest
	}
	result, err := s.mappings.BulkReclassify(ctx, promote, flag, reviewer)
	if err != nil {
		return nil, err
	}
	s.log.Info("bulk reclassification finished",
		"promoted", result.Promoted,
		"below_flag", result.BelowFlagCount,
		"promote_threshold", promote,
		"flag_threshold", flag,
	)
	return result, nil
}

// AuditTrail returns the append-only event history for a mapping.
func (s *ReviewService) AuditTrail(ctx context.Context, mappingID uuid.UUID) ([]domain.AuditEvent, error) {
	if mappingID == uuid.Nil {
		return nil, domain.ErrInvalidRequest
	}
	if _, err := s.mappings.GetByID(ctx, mappingID); err != nil {
		return nil, err
	}
	return s.mappings.ListAuditEvents(ctx, mappingID)
}
