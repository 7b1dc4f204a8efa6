package usecase

import (
	"math"
	"regexp"
	"strings"

	"github.com/harmonizeiq/backend/internal/domain"
)

// Package-level compiled regex pattern for performance
var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9\s]`)

// Scoring weights. Semantic similarity dominates; attribute agreement
// (brand, size) contributes the rest.
const (
	semanticWeight  = 0.70
	attributeWeight = 0.30

	brandWeight = 0.60 // enhanced mode: brand share of the attribute score
	sizeWeight  = 0.40 // enhanced mode: size share of the attribute score

	neutralAttributeScore = 0.5 // used when an attribute is absent on either side

	aliasBrandCredit    = 0.8  // partial credit for a fuzzy/alias brand match
	aliasSimilarityMin  = 0.85 // Levenshtein similarity required for alias credit
	normalizationBonus  = 0.05 // added when an abbreviation expanded with high certainty
	brandConfidenceHigh = 0.90
)

// ScorerConfig holds configuration for the scorer
type ScorerConfig struct {
	SemanticWeight  float64
	AttributeWeight float64
}

// Scorer combines semantic similarity with attribute similarity into a single
// confidence value in [0,1].
type Scorer struct {
	semanticWeight  float64
	attributeWeight float64
}

// NewScorer creates a scorer with the given weights, falling back to the
// canonical 70/30 split when unset.
func NewScorer(config ScorerConfig) *Scorer {
	sw := config.SemanticWeight
	aw := config.AttributeWeight
	if sw <= 0 || aw <= 0 || sw+aw > 1.0001 {
		sw = semanticWeight
		aw = attributeWeight
	}
	return &Scorer{semanticWeight: sw, attributeWeight: aw}
}

// ScoreBaseline scores a master/raw pair from embeddings and normalized sizes
// alone. Sizes are in the same normalized unit (ml/g); when either is missing
// the attribute score is neutral.
func (s *Scorer) ScoreBaseline(master *domain.MasterProduct, raw *domain.RawRecord) (domain.Scores, error) {
	semantic, err := semanticSimilarity(master.Embedding, raw.Embedding)
	if err != nil {
		return domain.Scores{}, err
	}

	attribute := sizeSimilarity(master.SizeNormalized, raw.ParsedSize)

	confidence := clamp01(s.semanticWeight*semantic + s.attributeWeight*attribute)
	return domain.Scores{
		Semantic:   round4(semantic),
		Attribute:  round4(attribute),
		Confidence: round4(confidence),
	}, nil
}

// ScoreEnhanced scores a master/raw pair using the gateway's normalization
// output. The attribute score blends brand and size agreement, and a small
// bonus applies when an abbreviation was expanded with high certainty.
func (s *Scorer) ScoreEnhanced(master *domain.MasterProduct, raw *domain.RawRecord, norm *domain.NormalizedText) (domain.Scores, error) {
	semantic, err := semanticSimilarity(master.Embedding, raw.Embedding)
	if err != nil {
		return domain.Scores{}, err
	}

	brand := brandSimilarity(master.Brand, norm.Brand)
	size := sizeSimilarity(master.SizeNormalized, raw.ParsedSize)
	attribute := brandWeight*brand + sizeWeight*size

	confidence := s.semanticWeight*semantic + s.attributeWeight*attribute
	if norm.TokensExpanded > 0 && norm.BrandConfidence >= brandConfidenceHigh {
		confidence += normalizationBonus
	}
	confidence = clamp01(confidence)

	return domain.Scores{
		Semantic:   round4(semantic),
		Attribute:  round4(attribute),
		Confidence: round4(confidence),
	}, nil
}

// semanticSimilarity is 1 - cosineDistance, clamped to [0,1].
func semanticSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, domain.ErrMissingEmbedding
	}
	if len(a) != len(b) {
		return 0, domain.ErrInvalidRequest
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

// sizeSimilarity is 1 - |a-b|/max(a,b) when both normalized sizes are
// present, else the neutral default.
func sizeSimilarity(master, raw *float64) float64 {
	if master == nil || raw == nil || *master <= 0 || *raw <= 0 {
		return neutralAttributeScore
	}
	diff := math.Abs(*master - *raw) / math.Max(*master, *raw)
	return clamp01(1 - diff)
}

// brandSimilarity compares normalized brand strings: 1.0 for an exact match,
// partial credit for a close alias, neutral when both are missing, else 0.
func brandSimilarity(master, raw string) float64 {
	m := normalizeBrand(master)
	r := normalizeBrand(raw)
	if m == "" && r == "" {
		return neutralAttributeScore
	}
	if m == "" || r == "" {
		return 0
	}
	if m == r {
		return 1.0
	}
	maxLen := len(m)
	if len(r) > maxLen {
		maxLen = len(r)
	}
	similarity := 1 - float64(levenshteinDistance(m, r))/float64(maxLen)
	if similarity >= aliasSimilarityMin {
		return aliasBrandCredit
	}
	return 0
}

// normalizeBrand lowercases and strips everything but letters, digits, and
// single spaces so "Coca-Cola" and "coca cola" compare equal.
func normalizeBrand(s string) string {
	if s == "" {
		return ""
	}
	result := nonAlphanumericRegex.ReplaceAllString(strings.ToLower(s), " ")
	result = multipleSpacesRegex.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	m := len(r1)
	n := len(r2)

	// Use two rows instead of full matrix for space efficiency
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[n]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
