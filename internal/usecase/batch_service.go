package usecase

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harmonizeiq/backend/internal/domain"
	"github.com/harmonizeiq/backend/internal/platform/logger"
)

const (
	defaultTopK    = 5
	defaultWorkers = 4
)

// BatchConfig holds configuration for the batch orchestrator
type BatchConfig struct {
	TopK    int // candidates retrieved per record
	Workers int // bounded concurrency within a batch
}

// BatchService drives one batch of raw records through normalization,
// embedding, candidate retrieval, scoring, classification, and persistence.
type BatchService struct {
	gateway    domain.EmbeddingGateway
	catalog    domain.MasterCatalog
	rawStore   domain.RawRecordStore
	mappings   domain.MappingStore
	scorer     *Scorer
	classifier *Classifier
	topK       int
	workers    int
	log        *logger.Logger
}

// NewBatchService creates a batch orchestrator with its collaborators.
func NewBatchService(
	gateway domain.EmbeddingGateway,
	catalog domain.MasterCatalog,
	rawStore domain.RawRecordStore,
	mappings domain.MappingStore,
	scorer *Scorer,
	classifier *Classifier,
	config BatchConfig,
	log *logger.Logger,
) *BatchService {
	topK := config.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	workers := config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &BatchService{
		gateway:    gateway,
		catalog:    catalog,
		rawStore:   rawStore,
		mappings:   mappings,
		scorer:     scorer,
		classifier: classifier,
		topK:       topK,
		workers:    workers,
		log:        log.With("component", "batch"),
	}
}

// RunBatch claims up to batchSize pending raw records and processes them.
// Per-record failures are counted, not raised; a gateway-level embedding
// failure degrades the whole batch to a failure summary and releases every
// claim so the records stay pending.
func (s *BatchService) RunBatch(ctx context.Context, batchSize int) (*domain.BatchSummary, error) {
	if batchSize <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	records, err := s.rawStore.ClaimPending(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return s.finishSummary(ctx, &domain.BatchSummary{})
	}

	s.log.Info("batch started", "claimed", len(records), "batch_size", batchSize)

	norms := s.normalizeRecords(ctx, records)

	texts := make([]string, len(records))
	for i := range records {
		texts[i] = norms[i].Normalized
		if texts[i] == "" {
			texts[i] = records[i].RawDescription
		}
	}

	embeddings, err := s.gateway.EmbedBatch(ctx, texts)
	if err != nil || len(embeddings) != len(records) {
		// No partial embeddings: the whole batch fails and every record
		// returns to pending.
		s.log.Error("batch embedding failed", "error", err, "records", len(records))
		s.releaseAll(ctx, records)
		return s.finishSummary(ctx, &domain.BatchSummary{Failed: len(records)})
	}

	summary := &domain.BatchSummary{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var unstarted []uuid.UUID
	for i := range records {
		// Cooperative cancellation between records: committed rows stay
		// committed, unstarted claims go back to pending.
		if gctx.Err() != nil {
			for _, rec := range records[i:] {
				unstarted = append(unstarted, rec.ID)
			}
			break
		}

		rec := records[i]
		norm := norms[i]
		emb := embeddings[i]
		g.Go(func() error {
			autoConfirmed, hadCandidates, perr := s.processRecord(gctx, &rec, &norm, emb)

			mu.Lock()
			defer mu.Unlock()
			if perr != nil {
				summary.Failed++
				return nil
			}
			summary.Processed++
			if autoConfirmed {
				summary.AutoConfirmed++
			} else if hadCandidates {
				summary.PendingReview++
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(unstarted) > 0 {
		cleanup := context.WithoutCancel(ctx)
		if rerr := s.rawStore.ReleaseClaims(cleanup, unstarted); rerr != nil {
			s.log.Error("failed to release cancelled claims", "error", rerr, "count", len(unstarted))
		}
	}

	s.log.Info("batch finished",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"auto_confirmed", summary.AutoConfirmed,
		"pending_review", summary.PendingReview,
	)
	return s.finishSummary(context.WithoutCancel(ctx), summary)
}

// normalizeRecords calls the gateway's batched normalization. On failure the
// batch proceeds with locally cleaned descriptions instead of aborting.
func (s *BatchService) normalizeRecords(ctx context.Context, records []domain.RawRecord) []domain.NormalizedText {
	inputs := make([]domain.NormalizeInput, len(records))
	for i, rec := range records {
		inputs[i] = domain.NormalizeInput{Text: rec.RawDescription, RetailerHint: rec.SourceSystem}
	}

	norms, err := s.gateway.NormalizeBatch(ctx, inputs)
	if err == nil && len(norms) == len(records) {
		return norms
	}

	s.log.Warn("normalization unavailable, falling back to raw descriptions", "error", err)
	fallback := make([]domain.NormalizedText, len(records))
	for i, rec := range records {
		size, unit := ExtractSize(rec.RawDescription)
		fallback[i] = domain.NormalizedText{
			Original:         rec.RawDescription,
			Normalized:       CleanDescription(rec.RawDescription),
			SizeNormalizedML: size,
			SizeUnit:         unit,
		}
	}
	return fallback
}

// processRecord persists one record's embedding and mappings inside a single
// transaction. Returns whether its best candidate auto-confirmed and whether
// any candidates were found at all.
func (s *BatchService) processRecord(ctx context.Context, rec *domain.RawRecord, norm *domain.NormalizedText, embedding []float32) (bool, bool, error) {
	rec.Embedding = embedding
	if norm.Normalized != "" {
		rec.NormalizedDescription = norm.Normalized
	} else {
		rec.NormalizedDescription = rec.RawDescription
	}
	rec.ParsedBrand = norm.Brand
	if norm.SizeNormalizedML != nil {
		rec.ParsedSize = norm.SizeNormalizedML
	} else if size, _ := ExtractSize(rec.RawDescription); size != nil {
		rec.ParsedSize = size
	}
	rec.Status = domain.RecordProcessed

	candidates, err := s.catalog.FindNearest(ctx, rec.Embedding, s.topK)
	if err != nil {
		s.failRecord(ctx, rec.ID, err)
		return false, false, err
	}

	scored := make([]domain.ScoredCandidate, 0, len(candidates))
	autoConfirmed := false
	for _, cand := range candidates {
		var scores domain.Scores
		var serr error
		if norm.Brand != "" {
			scores, serr = s.scorer.ScoreEnhanced(&cand.Master, rec, norm)
		} else {
			scores, serr = s.scorer.ScoreBaseline(&cand.Master, rec)
		}
		if serr != nil {
			s.failRecord(ctx, rec.ID, serr)
			return false, false, serr
		}

		status, low := s.classifier.Classify(scores.Confidence)
		if status == domain.StatusAutoConfirmed {
			autoConfirmed = true
		}
		scored = append(scored, domain.ScoredCandidate{
			MasterID:      cand.Master.ID,
			Scores:        scores,
			Status:        status,
			LowConfidence: low,
		})
	}

	if err := s.mappings.CommitRecord(ctx, rec, scored); err != nil {
		s.failRecord(ctx, rec.ID, err)
		return false, false, err
	}
	return autoConfirmed, len(scored) > 0, nil
}

func (s *BatchService) failRecord(ctx context.Context, id uuid.UUID, cause error) {
	s.log.Warn("record failed", "raw_id", id, "error", cause)
	cleanup := context.WithoutCancel(ctx)
	if err := s.rawStore.MarkFailed(cleanup, []uuid.UUID{id}); err != nil {
		s.log.Error("failed to mark record failed", "raw_id", id, "error", err)
	}
}

func (s *BatchService) releaseAll(ctx context.Context, records []domain.RawRecord) {
	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	cleanup := context.WithoutCancel(ctx)
	if err := s.rawStore.ReleaseClaims(cleanup, ids); err != nil {
		s.log.Error("failed to release claims", "error", err, "count", len(ids))
	}
}

// finishSummary fills in the fresh count of still-pending records.
func (s *BatchService) finishSummary(ctx context.Context, summary *domain.BatchSummary) (*domain.BatchSummary, error) {
	counts, err := s.rawStore.Counts(ctx)
	if err != nil {
		s.log.Warn("could not count remaining records", "error", err)
		return summary, nil
	}
	summary.Remaining = counts.Pending
	return summary, nil
}

// Status reports raw record progress for the processing status endpoint.
func (s *BatchService) Status(ctx context.Context) (*domain.ProcessingStatus, error) {
	return s.rawStore.Counts(ctx)
}
