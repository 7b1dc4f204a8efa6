package usecase

import "github.com/harmonizeiq/backend/internal/domain"

// Default classification thresholds. The engine carries exactly one
// configurable pair; every call site classifies through it.
const (
	defaultAutoConfirmThreshold = 0.95
	defaultReviewThreshold      = 0.70
)

// ClassifierConfig holds the canonical threshold pair.
type ClassifierConfig struct {
	AutoConfirmThreshold float64
	ReviewThreshold      float64
}

// Classifier maps a confidence value to an initial workflow status.
type Classifier struct {
	autoConfirmThreshold float64
	reviewThreshold      float64
}

// NewClassifier creates a classifier, falling back to the defaults when a
// threshold is unset or the pair is inverted.
func NewClassifier(config ClassifierConfig) *Classifier {
	auto := config.AutoConfirmThreshold
	review := config.ReviewThreshold
	if auto <= 0 || auto > 1 {
		auto = defaultAutoConfirmThreshold
	}
	if review <= 0 || review >= auto {
		review = defaultReviewThreshold
	}
	return &Classifier{autoConfirmThreshold: auto, reviewThreshold: review}
}

// Classify returns the initial status for a new mapping and whether it should
// be surfaced as low-confidence. Confidence exactly at the auto-confirm
// threshold auto-confirms; low-confidence mappings stay pending, flagged via
// the boolean rather than a status value outside the declared set.
func (c *Classifier) Classify(confidence float64) (domain.MappingStatus, bool) {
	switch {
	case confidence >= c.autoConfirmThreshold:
		return domain.StatusAutoConfirmed, false
	case confidence < c.reviewThreshold:
		return domain.StatusPending, true
	default:
		return domain.StatusPending, false
	}
}

// AutoConfirmThreshold exposes the configured auto-confirm cutoff.
func (c *Classifier) AutoConfirmThreshold() float64 { return c.autoConfirmThreshold }

// ReviewThreshold exposes the configured review cutoff.
func (c *Classifier) ReviewThreshold() float64 { return c.reviewThreshold }
