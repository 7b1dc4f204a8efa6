package domain

import (
	"time"

	"github.com/google/uuid"
)

// MappingStatus is the workflow state of an equivalence mapping.
type MappingStatus string

const (
	StatusPending       MappingStatus = "pending"
	StatusAutoConfirmed MappingStatus = "auto_confirmed"
	StatusVerified      MappingStatus = "verified"
	StatusRejected      MappingStatus = "rejected"
	StatusManual        MappingStatus = "manual"
)

// stickyStatuses are set by a human and survive automated re-scoring.
var stickyStatuses = []MappingStatus{StatusVerified, StatusManual}

// Sticky reports whether a status was set by a human and must never be
// overwritten by automated re-scoring.
func (s MappingStatus) Sticky() bool {
	for _, sticky := range stickyStatuses {
		if s == sticky {
			return true
		}
	}
	return false
}

// StickyStatuses returns the set of statuses Sticky reports true for, so
// storage layers can enforce the same set without restating it.
func StickyStatuses() []MappingStatus {
	out := make([]MappingStatus, len(stickyStatuses))
	copy(out, stickyStatuses)
	return out
}

// Terminal reports whether a status may no longer be changed through the
// review path (approve/reject).
func (s MappingStatus) Terminal() bool {
	return s == StatusVerified || s == StatusRejected || s == StatusManual
}

// Valid reports whether s is one of the declared workflow states.
func (s MappingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAutoConfirmed, StatusVerified, StatusRejected, StatusManual:
		return true
	}
	return false
}

// EquivalenceMapping links a raw retailer record to a master product.
// Exactly one row exists per (master, raw) pair.
type EquivalenceMapping struct {
	ID              uuid.UUID     `json:"id"`
	MasterID        uuid.UUID     `json:"masterId"`
	RawID           uuid.UUID     `json:"rawId"`
	SemanticScore   float64       `json:"semanticScore"`
	AttributeScore  float64       `json:"attributeScore"`
	FinalConfidence float64       `json:"finalConfidence"`
	Status          MappingStatus `json:"status"`
	LowConfidence   bool          `json:"lowConfidence"`
	Reviewer        string        `json:"reviewer,omitempty"`
	ReviewedAt      *time.Time    `json:"reviewedAt,omitempty"`
	ReviewNotes     string        `json:"reviewNotes,omitempty"`
	Competitor      bool          `json:"competitor"`
	CompetitorBrand string        `json:"competitorBrand,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// AuditAction tags an audit event with the kind of mutation that produced it.
type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditReview AuditAction = "review"
)

// AuditEvent records a status-changing action on a mapping. Events are
// append-only; corrections supersede, they never rewrite history.
type AuditEvent struct {
	ID             uuid.UUID      `json:"id"`
	MappingID      uuid.UUID      `json:"mappingId"`
	Action         AuditAction    `json:"action"`
	PreviousStatus *MappingStatus `json:"previousStatus,omitempty"`
	NewStatus      MappingStatus  `json:"newStatus"`
	Detail         map[string]any `json:"detail,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Scores holds the output of one master/raw comparison.
type Scores struct {
	Semantic   float64 `json:"semanticScore"`
	Attribute  float64 `json:"attributeScore"`
	Confidence float64 `json:"finalConfidence"`
}

// ScoredCandidate is a candidate after scoring and classification, ready to
// be upserted as an equivalence mapping.
type ScoredCandidate struct {
	MasterID      uuid.UUID
	Scores        Scores
	Status        MappingStatus
	LowConfidence bool
}

// BatchSummary reports the outcome of one batch run.
type BatchSummary struct {
	Processed     int `json:"processed"`
	Failed        int `json:"failed"`
	AutoConfirmed int `json:"autoConfirmed"`
	PendingReview int `json:"pendingReview"`
	Remaining     int `json:"remaining"`
}

// ProcessingStatus is a point-in-time view of raw record progress.
type ProcessingStatus struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Processing      int     `json:"processing"`
	Processed       int     `json:"processed"`
	Failed          int     `json:"failed"`
	ProgressPercent float64 `json:"progressPercent"`
}

// MappingFilter narrows a pending-mapping listing.
type MappingFilter struct {
	Status        MappingStatus
	MinConfidence *float64
	MaxConfidence *float64
}

// Page is a pagination request. Page numbers start at 1.
type Page struct {
	Number int
	Size   int
}

// ReclassifyResult reports a bulk reclassification pass.
type ReclassifyResult struct {
	Promoted         int `json:"promoted"`
	BelowFlagCount   int `json:"belowFlagCount"`
	RemainingPending int `json:"remainingPending"`
}

// NormalizedText is the gateway's normalization result for one description.
type NormalizedText struct {
	Original         string   `json:"original"`
	Normalized       string   `json:"normalized"`
	Brand            string   `json:"brand,omitempty"`
	BrandConfidence  float64  `json:"brandConfidence"`
	SizeValue        *float64 `json:"sizeValue,omitempty"`
	SizeUnit         string   `json:"sizeUnit,omitempty"`
	SizeNormalizedML *float64 `json:"sizeNormalizedMl,omitempty"`
	CategoryHint     string   `json:"categoryHint,omitempty"`
	TokensExpanded   int      `json:"tokensExpanded"`
}
