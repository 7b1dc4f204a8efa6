package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonizeiq/backend/internal/domain"
	"github.com/harmonizeiq/backend/internal/platform/logger"
)

// --- In-memory fakes for the batch and review services ---

type fakeGateway struct {
	mu           sync.Mutex
	embedErr     error
	normalizeErr error
	vectors      map[string][]float32
	norms        map[string]domain.NormalizedText
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		vectors: make(map[string][]float32),
		norms:   make(map[string]domain.NormalizedText),
	}
}

func (g *fakeGateway) vectorFor(text string) []float32 {
	if v, ok := g.vectors[text]; ok {
		return v
	}
	return []float32{1, 0}
}

func (g *fakeGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	return g.vectorFor(text), nil
}

func (g *fakeGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = g.vectorFor(t)
	}
	return out, nil
}

func (g *fakeGateway) Normalize(ctx context.Context, input domain.NormalizeInput) (*domain.NormalizedText, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.normalizeErr != nil {
		return nil, g.normalizeErr
	}
	norm := g.normFor(input.Text)
	return &norm, nil
}

func (g *fakeGateway) NormalizeBatch(ctx context.Context, inputs []domain.NormalizeInput) ([]domain.NormalizedText, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.normalizeErr != nil {
		return nil, g.normalizeErr
	}
	out := make([]domain.NormalizedText, len(inputs))
	for i, in := range inputs {
		out[i] = g.normFor(in.Text)
	}
	return out, nil
}

func (g *fakeGateway) normFor(text string) domain.NormalizedText {
	if n, ok := g.norms[text]; ok {
		return n
	}
	return domain.NormalizedText{Original: text, Normalized: text}
}

func (g *fakeGateway) HealthCheck(ctx context.Context) bool { return true }

type fakeCatalog struct {
	mu         sync.Mutex
	candidates []domain.Candidate
	findErr    error
	products   map[uuid.UUID]*domain.MasterProduct
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: make(map[uuid.UUID]*domain.MasterProduct)}
}

func (c *fakeCatalog) addMaster(m domain.MasterProduct) {
	c.products[m.ID] = &m
	c.candidates = append(c.candidates, domain.Candidate{Master: m})
}

func (c *fakeCatalog) FindNearest(ctx context.Context, embedding []float32, k int) ([]domain.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return nil, c.findErr
	}
	if len(c.candidates) > k {
		return c.candidates[:k], nil
	}
	return c.candidates, nil
}

func (c *fakeCatalog) GetByID(ctx context.Context, id uuid.UUID) (*domain.MasterProduct, error) {
	if m, ok := c.products[id]; ok {
		return m, nil
	}
	return nil, domain.ErrNotFound
}

type fakeRawStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.RawRecord
	order   []uuid.UUID

	released []uuid.UUID
	failed   []uuid.UUID
}

func newFakeRawStore() *fakeRawStore {
	return &fakeRawStore{records: make(map[uuid.UUID]*domain.RawRecord)}
}

func (s *fakeRawStore) addPending(description string) uuid.UUID {
	id := uuid.New()
	s.records[id] = &domain.RawRecord{
		ID:             id,
		SourceSystem:   "retailer-a",
		ExternalSKU:    "sku-" + id.String()[:8],
		RawDescription: description,
		Status:         domain.RecordPending,
	}
	s.order = append(s.order, id)
	return id
}

func (s *fakeRawStore) ClaimPending(ctx context.Context, limit int) ([]domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []domain.RawRecord
	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}
		rec := s.records[id]
		if rec.Status != domain.RecordPending {
			continue
		}
		rec.Status = domain.RecordProcessing
		claimed = append(claimed, *rec)
	}
	return claimed, nil
}

func (s *fakeRawStore) ReleaseClaims(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.records[id]; ok && rec.Status == domain.RecordProcessing {
			rec.Status = domain.RecordPending
		}
		s.released = append(s.released, id)
	}
	return nil
}

func (s *fakeRawStore) MarkFailed(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			rec.Status = domain.RecordFailed
		}
		s.failed = append(s.failed, id)
	}
	return nil
}

func (s *fakeRawStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeRawStore) Counts(ctx context.Context) (*domain.ProcessingStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := &domain.ProcessingStatus{}
	for _, rec := range s.records {
		status.Total++
		switch rec.Status {
		case domain.RecordPending:
			status.Pending++
		case domain.RecordProcessing:
			status.Processing++
		case domain.RecordProcessed:
			status.Processed++
		case domain.RecordFailed:
			status.Failed++
		}
	}
	if status.Total > 0 {
		status.ProgressPercent = float64(status.Processed+status.Failed) / float64(status.Total) * 100
	}
	return status, nil
}

type committedRecord struct {
	rec    domain.RawRecord
	scored []domain.ScoredCandidate
}

// fakeMappingRow mirrors the store's conflict handling: one row per
// (master, raw) pair, scores always refreshed, sticky statuses kept.
type fakeMappingRow struct {
	status domain.MappingStatus
	scores domain.Scores
	low    bool
}

type pairKey struct {
	master, raw uuid.UUID
}

type fakeMappingStore struct {
	mu        sync.Mutex
	raw       *fakeRawStore
	commitErr error
	committed []committedRecord
	rows      map[pairKey]*fakeMappingRow
}

func newFakeMappingStore(raw *fakeRawStore) *fakeMappingStore {
	return &fakeMappingStore{raw: raw, rows: make(map[pairKey]*fakeMappingRow)}
}

func (s *fakeMappingStore) row(masterID, rawID uuid.UUID) *fakeMappingRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[pairKey{masterID, rawID}]
}

func (s *fakeMappingStore) CommitRecord(ctx context.Context, rec *domain.RawRecord, scored []domain.ScoredCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, committedRecord{rec: *rec, scored: scored})
	for _, sc := range scored {
		key := pairKey{sc.MasterID, rec.ID}
		if row, ok := s.rows[key]; ok {
			row.scores = sc.Scores
			row.low = sc.LowConfidence
			if !row.status.Sticky() {
				row.status = sc.Status
			}
			continue
		}
		s.rows[key] = &fakeMappingRow{status: sc.Status, scores: sc.Scores, low: sc.LowConfidence}
	}
	if s.raw != nil {
		s.raw.mu.Lock()
		if stored, ok := s.raw.records[rec.ID]; ok {
			*stored = *rec
		}
		s.raw.mu.Unlock()
	}
	return nil
}

func (s *fakeMappingStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EquivalenceMapping, error) {
	return nil, domain.ErrNotFound
}

func (s *fakeMappingStore) ListPending(ctx context.Context, filter domain.MappingFilter, page domain.Page) ([]domain.EquivalenceMapping, int, error) {
	return nil, 0, nil
}

func (s *fakeMappingStore) Approve(ctx context.Context, id uuid.UUID, reviewer, notes string) (*domain.EquivalenceMapping, error) {
	return nil, domain.ErrNotFound
}

func (s *fakeMappingStore) Reject(ctx context.Context, id uuid.UUID, reviewer, notes string, alt *uuid.UUID) (*domain.EquivalenceMapping, error) {
	return nil, domain.ErrNotFound
}

func (s *fakeMappingStore) CreateManual(ctx context.Context, masterID, rawID uuid.UUID, reviewer, notes string, competitor bool, competitorBrand string) (*domain.EquivalenceMapping, error) {
	return nil, domain.ErrNotFound
}

func (s *fakeMappingStore) BulkReclassify(ctx context.Context, promote, flag float64, reviewer string) (*domain.ReclassifyResult, error) {
	return &domain.ReclassifyResult{}, nil
}

func (s *fakeMappingStore) ListAuditEvents(ctx context.Context, mappingID uuid.UUID) ([]domain.AuditEvent, error) {
	return nil, nil
}

func newTestBatchService(gateway *fakeGateway, catalog *fakeCatalog, raw *fakeRawStore, mappings *fakeMappingStore) *BatchService {
	return NewBatchService(
		gateway, catalog, raw, mappings,
		NewScorer(ScorerConfig{}),
		NewClassifier(ClassifierConfig{}),
		BatchConfig{TopK: 5, Workers: 2},
		logger.NewNop(),
	)
}

func TestRunBatch_AutoConfirmsExactMatches(t *testing.T) {
	gateway := newFakeGateway()
	catalog := newFakeCatalog()
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)

	catalog.addMaster(domain.MasterProduct{
		ID:             uuid.New(),
		Name:           "Coca-Cola Zero Sugar 330ml",
		Brand:          "Coca-Cola",
		Embedding:      []float32{1, 0},
		SizeNormalized: floatPtr(330),
		Active:         true,
	})

	raw.addPending("CC Zero 330ml")
	gateway.norms["CC Zero 330ml"] = domain.NormalizedText{
		Original:         "CC Zero 330ml",
		Normalized:       "coca cola zero sugar 330ml",
		Brand:            "Coca-Cola",
		BrandConfidence:  0.96,
		SizeNormalizedML: floatPtr(330),
		TokensExpanded:   1,
	}
	gateway.vectors["coca cola zero sugar 330ml"] = []float32{1, 0}

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	summary, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.AutoConfirmed)
	assert.Equal(t, 0, summary.Remaining)

	require.Len(t, mappings.committed, 1)
	committed := mappings.committed[0]
	assert.Equal(t, domain.RecordProcessed, committed.rec.Status)
	assert.Equal(t, "coca cola zero sugar 330ml", committed.rec.NormalizedDescription)
	assert.Equal(t, "Coca-Cola", committed.rec.ParsedBrand)

	require.Len(t, committed.scored, 1)
	assert.Equal(t, domain.StatusAutoConfirmed, committed.scored[0].Status)
	assert.False(t, committed.scored[0].LowConfidence)
}

func TestRunBatch_MidConfidenceStaysPendingReview(t *testing.T) {
	gateway := newFakeGateway()
	catalog := newFakeCatalog()
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)

	// No brand from normalization: baseline scoring with neutral size gives
	// 0.70*1.0 + 0.30*0.5 = 0.85, between the thresholds.
	catalog.addMaster(domain.MasterProduct{
		ID:        uuid.New(),
		Name:      "Sprite 2l",
		Embedding: []float32{1, 0},
		Active:    true,
	})
	raw.addPending("sprite bottle")

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	summary, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.AutoConfirmed)
	assert.Equal(t, 1, summary.PendingReview)

	require.Len(t, mappings.committed, 1)
	scored := mappings.committed[0].scored
	require.Len(t, scored, 1)
	assert.Equal(t, domain.StatusPending, scored[0].Status)
	assert.False(t, scored[0].LowConfidence)
	assert.Equal(t, 0.85, scored[0].Scores.Confidence)
}

func TestRunBatch_RerunPreservesHumanDecisions(t *testing.T) {
	gateway := newFakeGateway()
	catalog := newFakeCatalog()
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)

	masterID := uuid.New()
	catalog.addMaster(domain.MasterProduct{
		ID:        masterID,
		Name:      "Sprite 2l",
		Embedding: []float32{1, 0},
		Active:    true,
	})
	rawID := raw.addPending("sprite bottle")

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	_, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	row := mappings.row(masterID, rawID)
	require.NotNil(t, row)
	assert.Equal(t, domain.StatusPending, row.status)
	assert.Equal(t, 0.85, row.scores.Confidence)

	// A reviewer verifies the pair, then the record is re-queued and the
	// embedding drifts.
	row.status = domain.StatusVerified
	raw.records[rawID].Status = domain.RecordPending
	gateway.vectors["sprite bottle"] = []float32{0.8, 0.6}

	_, err = svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusVerified, row.status)
	assert.Equal(t, 0.71, row.scores.Confidence, "scores refresh even for sticky rows")
	assert.Len(t, mappings.rows, 1)
}

func TestRunBatch_EmbeddingFailureReleasesClaims(t *testing.T) {
	gateway := newFakeGateway()
	gateway.embedErr = errors.New("model crashed")
	catalog := newFakeCatalog()
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)

	id1 := raw.addPending("first")
	id2 := raw.addPending("second")

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	summary, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, mappings.committed)

	// Both records returned to pending for the next run.
	assert.ElementsMatch(t, []uuid.UUID{id1, id2}, raw.released)
	assert.Equal(t, domain.RecordPending, raw.records[id1].Status)
	assert.Equal(t, domain.RecordPending, raw.records[id2].Status)
	assert.Equal(t, 2, summary.Remaining)
}

func TestRunBatch_NormalizationFailureFallsBack(t *testing.T) {
	gateway := newFakeGateway()
	gateway.normalizeErr = errors.New("normalizer down")
	catalog := newFakeCatalog()
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)

	catalog.addMaster(domain.MasterProduct{
		ID:        uuid.New(),
		Name:      "Coca-Cola 330ml",
		Embedding: []float32{1, 0},
		Active:    true,
	})
	raw.addPending("NEW Coca-Cola 330ml SALE")

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	summary, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	require.Len(t, mappings.committed, 1)

	rec := mappings.committed[0].rec
	assert.Equal(t, "Coca-Cola 330ml", rec.NormalizedDescription)
	require.NotNil(t, rec.ParsedSize)
	assert.Equal(t, 330.0, *rec.ParsedSize)
}

func TestRunBatch_PerRecordFailureIsCounted(t *testing.T) {
	gateway := newFakeGateway()
	catalog := newFakeCatalog()
	catalog.findErr = errors.New("index offline")
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)

	id := raw.addPending("anything")

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	summary, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, raw.failed, id)
	assert.Equal(t, domain.RecordFailed, raw.records[id].Status)
}

func TestRunBatch_CommitFailureIsCounted(t *testing.T) {
	gateway := newFakeGateway()
	catalog := newFakeCatalog()
	catalog.addMaster(domain.MasterProduct{
		ID:        uuid.New(),
		Name:      "Fanta Orange",
		Embedding: []float32{1, 0},
		Active:    true,
	})
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)
	mappings.commitErr = errors.New("tx aborted")

	id := raw.addPending("fanta")

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	summary, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, raw.failed, id)
}

func TestRunBatch_InvalidBatchSize(t *testing.T) {
	svc := newTestBatchService(newFakeGateway(), newFakeCatalog(), newFakeRawStore(), newFakeMappingStore(nil))

	_, err := svc.RunBatch(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = svc.RunBatch(context.Background(), -5)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRunBatch_NoPendingRecords(t *testing.T) {
	svc := newTestBatchService(newFakeGateway(), newFakeCatalog(), newFakeRawStore(), newFakeMappingStore(nil))

	summary, err := svc.RunBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Remaining)
}

func TestRunBatch_RespectsBatchSize(t *testing.T) {
	gateway := newFakeGateway()
	catalog := newFakeCatalog()
	catalog.addMaster(domain.MasterProduct{
		ID:        uuid.New(),
		Name:      "Pepsi Max",
		Embedding: []float32{1, 0},
		Active:    true,
	})
	raw := newFakeRawStore()
	mappings := newFakeMappingStore(raw)

	for i := 0; i < 5; i++ {
		raw.addPending("pepsi max can")
	}

	svc := newTestBatchService(gateway, catalog, raw, mappings)

	summary, err := svc.RunBatch(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Remaining)
}

func TestBatchServiceStatus(t *testing.T) {
	raw := newFakeRawStore()
	raw.addPending("one")
	id := raw.addPending("two")
	raw.records[id].Status = domain.RecordProcessed

	svc := newTestBatchService(newFakeGateway(), newFakeCatalog(), raw, newFakeMappingStore(nil))

	status, err := svc.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 1, status.Processed)
	assert.Equal(t, 50.0, status.ProgressPercent)
}
