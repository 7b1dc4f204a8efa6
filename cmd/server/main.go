package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/harmonizeiq/backend/config"
	httpDelivery "github.com/harmonizeiq/backend/internal/delivery/http"
	"github.com/harmonizeiq/backend/internal/infrastructure/cache"
	"github.com/harmonizeiq/backend/internal/infrastructure/nlp"
	"github.com/harmonizeiq/backend/internal/infrastructure/postgres"
	"github.com/harmonizeiq/backend/internal/platform/logger"
	"github.com/harmonizeiq/backend/internal/usecase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLog, err := logger.New(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	appLog.Info("starting harmonizeiq backend",
		"version", "1.0.0",
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	// Database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        int32(cfg.Database.MaxConns),
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		cancel()
		appLog.Fatal("failed to connect to database", "error", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		cancel()
		appLog.Fatal("failed to apply schema", "error", err)
	}
	cancel()

	masterRepo := postgres.NewMasterRepo(pool, cfg.Matching.EFSearch)
	rawRepo := postgres.NewRawRepo(pool)
	mappingRepo := postgres.NewMappingRepo(pool)

	// NLP gateway with caching decorator
	memoryCache := cache.NewMemoryCache()
	nlpClient := nlp.NewClient(nlp.ClientConfig{
		BaseURL:           cfg.NLP.BaseURL,
		Timeout:           cfg.NLP.Timeout,
		RequestsPerSecond: cfg.NLP.RequestsPerSecond,
		Burst:             cfg.NLP.Burst,
	}, appLog)
	gateway := nlp.NewCachedGateway(nlpClient, memoryCache, cfg.Cache.TTL)

	appLog.Info("nlp gateway configured",
		"base_url", cfg.NLP.BaseURL,
		"cache_ttl", cfg.Cache.TTL,
	)

	// Usecase layer
	scorer := usecase.NewScorer(usecase.ScorerConfig{
		SemanticWeight:  cfg.Matching.SemanticWeight,
		AttributeWeight: cfg.Matching.AttributeWeight,
	})
	classifier := usecase.NewClassifier(usecase.ClassifierConfig{
		AutoConfirmThreshold: cfg.Matching.AutoConfirmThreshold,
		ReviewThreshold:      cfg.Matching.ReviewThreshold,
	})
	batchService := usecase.NewBatchService(
		gateway, masterRepo, rawRepo, mappingRepo,
		scorer, classifier,
		usecase.BatchConfig{TopK: cfg.Matching.TopK, Workers: cfg.Matching.Workers},
		appLog,
	)
	reviewService := usecase.NewReviewService(mappingRepo, masterRepo, rawRepo, classifier, appLog)

	appLog.Info("matching configured",
		"auto_confirm_threshold", cfg.Matching.AutoConfirmThreshold,
		"review_threshold", cfg.Matching.ReviewThreshold,
		"top_k", cfg.Matching.TopK,
		"workers", cfg.Matching.Workers,
	)

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(batchService, reviewService, gateway, appLog)

	// Setup router
	router := httpDelivery.SetupRouter(cfg, handler, appLog)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	appLog.Info("server listening", "addr", addr)

	if err := router.Run(addr); err != nil {
		appLog.Fatal("server stopped", "error", err)
	}
}
