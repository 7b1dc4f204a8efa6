package nlp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/harmonizeiq/backend/internal/domain"
)

// CachedGateway decorates an EmbeddingGateway with TTL caching for
// single-text calls. Batch calls pass through: the orchestrator already
// batches per run, and retailer catalogs repeat single descriptions far more
// often than whole batches.
type CachedGateway struct {
	inner domain.EmbeddingGateway
	cache domain.CacheRepository
	ttl   time.Duration
}

// NewCachedGateway wraps a gateway with the given cache and TTL.
func NewCachedGateway(inner domain.EmbeddingGateway, cache domain.CacheRepository, ttl time.Duration) *CachedGateway {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedGateway{inner: inner, cache: cache, ttl: ttl}
}

// Embed returns a cached vector when the same text was embedded before.
func (g *CachedGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey("embed", text)
	if cached, err := g.cache.Get(ctx, key); err == nil {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := g.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	_ = g.cache.Set(ctx, key, vec, g.ttl)
	return vec, nil
}

// EmbedBatch passes through to the inner gateway.
func (g *CachedGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return g.inner.EmbedBatch(ctx, texts)
}

// Normalize returns a cached normalization for a repeated text/hint pair.
func (g *CachedGateway) Normalize(ctx context.Context, input domain.NormalizeInput) (*domain.NormalizedText, error) {
	key := cacheKey("normalize", input.Text+"|"+input.RetailerHint)
	if cached, err := g.cache.Get(ctx, key); err == nil {
		if norm, ok := cached.(*domain.NormalizedText); ok {
			return norm, nil
		}
	}

	norm, err := g.inner.Normalize(ctx, input)
	if err != nil {
		return nil, err
	}
	_ = g.cache.Set(ctx, key, norm, g.ttl)
	return norm, nil
}

// NormalizeBatch passes through to the inner gateway.
func (g *CachedGateway) NormalizeBatch(ctx context.Context, inputs []domain.NormalizeInput) ([]domain.NormalizedText, error) {
	return g.inner.NormalizeBatch(ctx, inputs)
}

// HealthCheck passes through to the inner gateway.
func (g *CachedGateway) HealthCheck(ctx context.Context) bool {
	return g.inner.HealthCheck(ctx)
}

// cacheKey hashes the text so arbitrarily long descriptions stay bounded.
func cacheKey(kind, text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return kind + ":" + hex.EncodeToString(sum[:16])
}
