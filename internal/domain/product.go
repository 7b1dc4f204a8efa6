package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus tracks where a raw record is in the matching pipeline.
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordProcessing RecordStatus = "processing" // claimed by a batch run
	RecordProcessed  RecordStatus = "processed"
	RecordFailed     RecordStatus = "failed"
)

// MasterProduct is a canonical catalog entry (the "Golden Record").
// Created and maintained by catalog ingestion; read-only to the matching engine.
type MasterProduct struct {
	ID             uuid.UUID         `json:"id"`
	GTIN           string            `json:"gtin,omitempty"`
	Name           string            `json:"name"`
	Brand          string            `json:"brand,omitempty"`
	Category       string            `json:"category,omitempty"`
	SizeValue      *float64          `json:"sizeValue,omitempty"`
	SizeUnit       string            `json:"sizeUnit,omitempty"`
	SizeNormalized *float64          `json:"sizeNormalized,omitempty"` // ml for volume, g for weight
	Attributes     map[string]string `json:"attributes,omitempty"`
	Embedding      []float32         `json:"-"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// RawRecord is one retailer-reported SKU description awaiting harmonization.
type RawRecord struct {
	ID                    uuid.UUID    `json:"id"`
	SourceSystem          string       `json:"sourceSystem"`
	ExternalSKU           string       `json:"externalSku"`
	RawDescription        string       `json:"rawDescription"`
	NormalizedDescription string       `json:"normalizedDescription,omitempty"`
	ParsedBrand           string       `json:"parsedBrand,omitempty"`
	ParsedSize            *float64     `json:"parsedSize,omitempty"` // normalized ml/g
	Embedding             []float32    `json:"-"`
	Status                RecordStatus `json:"status"`
	CreatedAt             time.Time    `json:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt"`
}

// Candidate is a master product returned by nearest-neighbor retrieval,
// paired with its cosine distance to the query embedding.
type Candidate struct {
	Master   MasterProduct `json:"master"`
	Distance float64       `json:"distance"`
}
