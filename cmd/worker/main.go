package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/jobflow/internal/config"
	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/logger"
	"github.com/timmy/jobflow/internal/queue"
	"github.com/timmy/jobflow/internal/repository"
	"github.com/timmy/jobflow/internal/service"
)

// Standalone queue worker. Runs the same batch processor as the API process
// but without the HTTP surface; deploy it to scale batch throughput
// independently of the control plane.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx := appLogger.WithContext(context.Background())
	ctx = logger.SetComponent(ctx, "worker")

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}

	jobRepo := repository.NewJobRepository(db)
	runRepo := repository.NewImportRunRepository(db)
	completionRepo := repository.NewCompletionRepository(db)
	queueRepo := repository.NewQueueRepository(db)

	processor := service.NewProcessorService(jobRepo, runRepo, completionRepo)

	workers := queue.NewWorkerPool(queueRepo, processor.ProcessBatch, queue.Config{
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
		RetryDelay:   cfg.Queue.RetryDelay,
	})
	workers.Start(ctx)

	appLogger.Infof("Worker started with concurrency %d", cfg.Queue.Concurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Worker shutting down...")
	workers.Stop()

	// Close out runs that can no longer complete: with this worker gone and
	// the queue drained of claimable work, a run still in processing with no
	// pending messages is stuck.
	pending, err := queueRepo.PendingCount(ctx)
	if err != nil {
		appLogger.Errorf("Failed to inspect queue on shutdown: %v", err)
	} else if pending == 0 {
		failStuckRuns(ctx, runRepo)
	}

	appLogger.Info("Worker exited")
}

func failStuckRuns(ctx context.Context, runRepo *repository.ImportRunRepository) {
	runs, err := runRepo.ListByStatus(ctx, domain.RunStatusProcessing)
	if err != nil {
		logger.CtxError(ctx, "Failed to list processing runs: %v", err)
		return
	}
	for _, run := range runs {
		if _, err := runRepo.MarkFailed(ctx, run.ID, "Worker shutdown before completion"); err != nil {
			logger.CtxError(ctx, "Failed to close run %s: %v", run.ID, err)
		}
	}
	if len(runs) > 0 {
		logger.With(logger.Fields{logger.FieldCount: len(runs)}).
			Warn(ctx, "Closed stuck runs on shutdown")
	}
}
