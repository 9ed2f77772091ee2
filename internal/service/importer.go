package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/logger"
	"github.com/timmy/jobflow/internal/repository"
)

// ImporterConfig holds batching and retry settings for the import cycle.
type ImporterConfig struct {
	BatchSize  int
	MaxRetries int
}

// ImporterService drives one import cycle: fetch every source, open a ledger
// entry per source, split records into batches, and dispatch them through the
// durable queue. Processing happens asynchronously in the workers.
type ImporterService struct {
	fetcher   *FetcherService
	runRepo   *repository.ImportRunRepository
	queueRepo *repository.QueueRepository
	cfg       ImporterConfig
}

// NewImporterService creates a new ImporterService.
// Parameters:
//   - fetcher: source fetcher.
//   - runRepo: import run ledger storage.
//   - queueRepo: durable queue storage.
//   - cfg: batching and retry settings; zero values fall back to defaults.
// Returns:
//   - *ImporterService: service instance.
func NewImporterService(fetcher *FetcherService, runRepo *repository.ImportRunRepository, queueRepo *repository.QueueRepository, cfg ImporterConfig) *ImporterService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ImporterService{
		fetcher:   fetcher,
		runRepo:   runRepo,
		queueRepo: queueRepo,
		cfg:       cfg,
	}
}

// RunImportCycle fetches all sources and dispatches their records. Each source
// gets its own run: sources that fetched nothing (or failed) are closed as
// failed immediately and nothing is enqueued for them; the rest move to
// processing with their batch total fixed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []domain.ImportRun: one ledger entry per configured source.
//   - error: non-nil only when the ledger itself cannot be written.
func (s *ImporterService) RunImportCycle(ctx context.Context) ([]domain.ImportRun, error) {
	start := time.Now()
	logger.CtxInfo(ctx, "Starting import cycle for %d sources", len(s.fetcher.Sources()))

	results := s.fetcher.FetchAll(ctx)

	runs := make([]domain.ImportRun, 0, len(results))
	for _, result := range results {
		run, err := s.dispatchSource(ctx, result)
		if err != nil {
			return runs, err
		}
		runs = append(runs, *run)
	}

	logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).
		Info(ctx, "Import cycle dispatched %d runs", len(runs))

	return runs, nil
}

// dispatchSource opens the ledger entry for one fetch result and enqueues its
// batches.
func (s *ImporterService) dispatchSource(ctx context.Context, result FetchResult) (*domain.ImportRun, error) {
	ctx = logger.SetSource(ctx, result.Source)

	run := &domain.ImportRun{
		ID:           uuid.NewString(),
		Source:       result.Source,
		TotalFetched: result.JobCount,
		StartTime:    time.Now(),
		Status:       domain.RunStatusPending,
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create import run: %w", err)
	}
	ctx = logger.SetRunID(ctx, run.ID)

	if !result.Success || len(result.Records) == 0 {
		cause := result.Error
		if cause == "" {
			cause = "No jobs fetched"
		}
		if _, err := s.runRepo.MarkFailed(ctx, run.ID, cause); err != nil {
			return nil, fmt.Errorf("failed to close empty run: %w", err)
		}
		run.Status = domain.RunStatusFailed
		run.Error = cause
		logger.CtxWarn(ctx, "Run closed without dispatch: %s", cause)
		return run, nil
	}

	batches := CreateBatches(result.Records, s.cfg.BatchSize)
	for i, batch := range batches {
		msg := domain.BatchMessage{
			ImportRunID:  run.ID,
			Source:       result.Source,
			Records:      batch,
			BatchNumber:  i + 1,
			TotalBatches: len(batches),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode batch message: %w", err)
		}
		if _, err := s.queueRepo.Enqueue(ctx, string(payload), s.cfg.MaxRetries); err != nil {
			return nil, fmt.Errorf("failed to enqueue batch %d: %w", i+1, err)
		}
	}

	if err := s.runRepo.MarkProcessing(ctx, run.ID, len(batches)); err != nil {
		return nil, fmt.Errorf("failed to mark run processing: %w", err)
	}
	run.Status = domain.RunStatusProcessing
	run.TotalBatches = len(batches)

	logger.With(logger.Fields{logger.FieldCount: len(batches)}).
		Info(ctx, "Dispatched %d records in %d batches", len(result.Records), len(batches))

	return run, nil
}

// CreateBatches splits records into consecutive slices of at most batchSize,
// preserving order. Every record lands in exactly one batch.
// Parameters:
//   - records: records to split.
//   - batchSize: maximum records per batch; values below 1 are treated as 1.
// Returns:
//   - [][]domain.JobRecord: ordered batches, empty for empty input.
func CreateBatches(records []domain.JobRecord, batchSize int) [][]domain.JobRecord {
	if batchSize < 1 {
		batchSize = 1
	}
	batches := make([][]domain.JobRecord, 0, (len(records)+batchSize-1)/batchSize)
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[i:end])
	}
	return batches
}
