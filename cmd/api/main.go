package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/jobflow/internal/api"
	"github.com/timmy/jobflow/internal/archive"
	"github.com/timmy/jobflow/internal/config"
	"github.com/timmy/jobflow/internal/feed"
	"github.com/timmy/jobflow/internal/logger"
	"github.com/timmy/jobflow/internal/queue"
	"github.com/timmy/jobflow/internal/repository"
	"github.com/timmy/jobflow/internal/scheduler"
	"github.com/timmy/jobflow/internal/service"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx := appLogger.WithContext(context.Background())

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	runRepo := repository.NewImportRunRepository(db)
	completionRepo := repository.NewCompletionRepository(db)
	queueRepo := repository.NewQueueRepository(db)

	// Initialize optional feed snapshot archive
	var archiver service.FeedArchiver
	if cfg.Archive.Enabled {
		s3Archive, err := archive.NewS3Archive(&cfg.Archive)
		if err != nil {
			appLogger.Fatalf("Failed to initialize feed archive: %v", err)
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			appLogger.Fatalf("Failed to ensure archive bucket: %v", err)
		}
		archiver = s3Archive
	}

	// Initialize services
	feedClient := feed.NewClient(&feed.ClientConfig{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
	})
	fetcher := service.NewFetcherService(feedClient, cfg.Fetch.Sources, archiver)
	importer := service.NewImporterService(fetcher, runRepo, queueRepo, service.ImporterConfig{
		BatchSize:  cfg.Queue.BatchSize,
		MaxRetries: cfg.Queue.MaxRetries,
	})
	processor := service.NewProcessorService(jobRepo, runRepo, completionRepo)
	queueAdmin := service.NewQueueAdminService(queueRepo)

	// Start embedded queue workers
	workers := queue.NewWorkerPool(queueRepo, processor.ProcessBatch, queue.Config{
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
		RetryDelay:   cfg.Queue.RetryDelay,
	})
	workers.Start(ctx)

	// Start import scheduler
	sched := scheduler.New(cfg.Schedule.Cron, cfg.Schedule.RunOnStart, func(ctx context.Context) {
		if _, err := importer.RunImportCycle(ctx); err != nil {
			logger.CtxError(ctx, "Scheduled import cycle failed: %v", err)
		}
	})
	if err := sched.Start(ctx); err != nil {
		appLogger.Fatalf("Failed to start scheduler: %v", err)
	}

	// Setup router
	router := api.SetupRouter(importer, queueAdmin, runRepo, &cfg.Server)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.Infof("Starting API server on port %d (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Stop taking new work first, then drain in-flight batches
	sched.Stop()
	workers.Stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Server exited")
}
