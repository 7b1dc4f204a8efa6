package http

import (
	"github.com/gin-gonic/gin"

	"github.com/harmonizeiq/backend/config"
	"github.com/harmonizeiq/backend/internal/platform/logger"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, log *logger.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(RateLimitMiddleware(cfg.RateLimit.PerIP, cfg.RateLimit.Burst))

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		processing := v1.Group("/processing")
		{
			processing.POST("/run", handler.RunBatch)
			processing.GET("/status", handler.ProcessingStatus)
		}

		mappings := v1.Group("/mappings")
		{
			mappings.GET("/pending", handler.ListPendingMappings)
			mappings.POST("/manual", handler.CreateManualMapping)
			mappings.POST("/reclassify", handler.ReclassifyMappings)
			mappings.POST("/:id/approve", handler.ApproveMapping)
			mappings.POST("/:id/reject", handler.RejectMapping)
			mappings.GET("/:id/audit", handler.MappingAuditTrail)
		}
	}

	return router
}
