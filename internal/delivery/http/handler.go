package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/harmonizeiq/backend/internal/domain"
	"github.com/harmonizeiq/backend/internal/platform/logger"
	"github.com/harmonizeiq/backend/internal/usecase"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	batch   *usecase.BatchService
	review  *usecase.ReviewService
	gateway domain.EmbeddingGateway
	log     *logger.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(batch *usecase.BatchService, review *usecase.ReviewService, gateway domain.EmbeddingGateway, log *logger.Logger) *Handler {
	return &Handler{
		batch:   batch,
		review:  review,
		gateway: gateway,
		log:     log.With("component", "http"),
	}
}

// HealthCheck returns the health status of the API and its NLP gateway.
func (h *Handler) HealthCheck(c *gin.Context) {
	gatewayStatus := "healthy"
	if !h.gateway.HealthCheck(c.Request.Context()) {
		gatewayStatus = "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"service":     "harmonizeiq-backend",
		"version":     "1.0.0",
		"nlp_gateway": gatewayStatus,
	})
}

type runBatchRequest struct {
	BatchSize int `json:"batch_size"`
}

// RunBatch triggers one processing batch over pending raw records.
func (h *Handler) RunBatch(c *gin.Context) {
	req := runBatchRequest{BatchSize: 100}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	summary, err := h.batch.RunBatch(c.Request.Context(), req.BatchSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed":      summary.Processed,
		"failed":         summary.Failed,
		"auto_confirmed": summary.AutoConfirmed,
		"pending_review": summary.PendingReview,
		"remaining":      summary.Remaining,
	})
}

// ProcessingStatus reports raw record counts and overall progress.
func (h *Handler) ProcessingStatus(c *gin.Context) {
	status, err := h.batch.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":            status.Total,
		"pending":          status.Pending,
		"processing":       status.Processing,
		"processed":        status.Processed,
		"failed":           status.Failed,
		"progress_percent": status.ProgressPercent,
	})
}

// ListPendingMappings returns mappings awaiting review, paginated and ordered
// by confidence descending.
func (h *Handler) ListPendingMappings(c *gin.Context) {
	filter := domain.MappingFilter{
		Status: domain.MappingStatus(c.Query("status")),
	}
	if v := c.Query("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_confidence"})
			return
		}
		filter.MinConfidence = &f
	}
	if v := c.Query("max_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_confidence"})
			return
		}
		filter.MaxConfidence = &f
	}

	page := domain.Page{
		Number: queryInt(c, "page", 1),
		Size:   queryInt(c, "page_size", 0),
	}

	mappings, total, err := h.review.ListPending(c.Request.Context(), filter, page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mappings": mappings,
		"total":    total,
		"page":     page.Number,
	})
}

type reviewRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
	Notes    string `json:"notes"`
}

// ApproveMapping marks a mapping verified.
func (h *Handler) ApproveMapping(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer is required"})
		return
	}

	mapping, err := h.review.Approve(c.Request.Context(), id, req.Reviewer, req.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapping)
}

type rejectRequest struct {
	Reviewer            string     `json:"reviewer" binding:"required"`
	Notes               string     `json:"notes"`
	AlternativeMasterID *uuid.UUID `json:"alternative_master_id"`
}

// RejectMapping marks a mapping rejected, optionally redirecting the raw
// record to an alternative master product.
func (h *Handler) RejectMapping(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reviewer is required"})
		return
	}

	mapping, err := h.review.Reject(c.Request.Context(), id, req.Reviewer, req.Notes, req.AlternativeMasterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapping)
}

type manualMappingRequest struct {
	MasterID        uuid.UUID `json:"master_id" binding:"required"`
	RawID           uuid.UUID `json:"raw_id" binding:"required"`
	Reviewer        string    `json:"reviewer" binding:"required"`
	Notes           string    `json:"notes"`
	Competitor      bool      `json:"competitor"`
	CompetitorBrand string    `json:"competitor_brand"`
}

// CreateManualMapping forces a manual mapping between a master product and a
// raw record.
func (h *Handler) CreateManualMapping(c *gin.Context) {
	var req manualMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "master_id, raw_id and reviewer are required"})
		return
	}

	mapping, err := h.review.CreateManual(c.Request.Context(),
		req.MasterID, req.RawID, req.Reviewer, req.Notes, req.Competitor, req.CompetitorBrand)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mapping)
}

type reclassifyRequest struct {
	PromoteThreshold float64 `json:"promote_threshold"`
	FlagThreshold    float64 `json:"flag_threshold"`
	Reviewer         string  `json:"reviewer"`
}

// ReclassifyMappings promotes pending mappings above the promote threshold.
func (h *Handler) ReclassifyMappings(c *gin.Context) {
	var req reclassifyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Reviewer == "" {
		req.Reviewer = "system"
	}

	result, err := h.review.BulkReclassify(c.Request.Context(), req.PromoteThreshold, req.FlagThreshold, req.Reviewer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"promoted":          result.Promoted,
		"below_flag":        result.BelowFlagCount,
		"remaining_pending": result.RemainingPending,
	})
}

// MappingAuditTrail returns a mapping's audit history, oldest first.
func (h *Handler) MappingAuditTrail(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	events, err := h.review.AuditTrail(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mapping id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrMissingEmbedding):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "nlp gateway unavailable"})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
