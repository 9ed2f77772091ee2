package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/logger"
	"github.com/timmy/jobflow/internal/repository"
	"gorm.io/gorm"
)

// JobStore is the job persistence surface the processor needs. It is satisfied
// by repository.JobRepository.
type JobStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*domain.JobRecord, error)
	Insert(ctx context.Context, job *domain.JobRecord) error
	Update(ctx context.Context, job *domain.JobRecord) error
}

// ProcessorService consumes batch messages: it upserts every record, folds the
// batch outcome into the run ledger, and finalizes the run after its last
// batch. All three steps are idempotent, which is what makes at-least-once
// delivery safe.
type ProcessorService struct {
	jobs        JobStore
	runRepo     *repository.ImportRunRepository
	completions *repository.CompletionRepository
}

// NewProcessorService creates a new ProcessorService.
// Parameters:
//   - jobs: job persistence.
//   - runRepo: import run ledger storage.
//   - completions: durable batch completion tracking.
// Returns:
//   - *ProcessorService: service instance.
func NewProcessorService(jobs JobStore, runRepo *repository.ImportRunRepository, completions *repository.CompletionRepository) *ProcessorService {
	return &ProcessorService{
		jobs:        jobs,
		runRepo:     runRepo,
		completions: completions,
	}
}

// ProcessBatch handles one delivered batch message. Redeliveries of a batch
// already recorded as complete re-upsert records (harmless) but never count
// twice and never finalize twice.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - msg: decoded batch message.
// Returns:
//   - error: non-nil when the batch must be redelivered.
func (s *ProcessorService) ProcessBatch(ctx context.Context, msg *domain.BatchMessage) error {
	ctx = logger.SetSource(logger.SetRunID(ctx, msg.ImportRunID), msg.Source)
	logger.CtxInfo(ctx, "Processing batch %d/%d", msg.BatchNumber, msg.TotalBatches)

	run, err := s.runRepo.GetByID(ctx, msg.ImportRunID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			// The ledger entry is gone: discard the run's completion tracking
			// and hand the batch back to the queue's retry policy.
			logger.CtxError(ctx, "Run record missing for batch %d: %v", msg.BatchNumber, err)
			if delErr := s.completions.DeleteForRun(ctx, msg.ImportRunID); delErr != nil {
				logger.CtxWarn(ctx, "Failed to drop completion rows: %v", delErr)
			}
		}
		return err
	}
	if run.IsTerminal() {
		// Redelivery after finalization.
		logger.CtxDebug(ctx, "Run already %s, skipping batch %d", run.Status, msg.BatchNumber)
		return nil
	}

	result := s.importBatch(ctx, msg.Records)

	recorded, err := s.runRepo.RecordBatch(ctx, msg.ImportRunID, msg.BatchNumber, &result)
	if err != nil {
		return fmt.Errorf("failed to record batch results: %w", err)
	}
	if recorded {
		logger.With(logger.Fields{logger.FieldBatch: msg.BatchNumber}).
			Info(ctx, "Batch %d/%d completed: %d new, %d updated, %d failed",
				msg.BatchNumber, msg.TotalBatches, result.NewJobs, result.UpdatedJobs, result.FailedJobs)
	} else {
		logger.CtxDebug(ctx, "Batch %d already recorded, skipping counters", msg.BatchNumber)
	}

	// Finalization runs on already-recorded redeliveries too: a prior attempt
	// may have recorded the last batch and then died before closing the run.
	return s.maybeFinalize(ctx, msg)
}

// maybeFinalize closes the run once every batch has a completion row. The
// count check and the guarded terminal update together make the transition
// exactly-once even when the last two batches finish concurrently.
func (s *ProcessorService) maybeFinalize(ctx context.Context, msg *domain.BatchMessage) error {
	done, err := s.completions.CountCompletions(ctx, msg.ImportRunID)
	if err != nil {
		return fmt.Errorf("failed to count batch completions: %w", err)
	}
	if done < int64(msg.TotalBatches) {
		return nil
	}

	finalized, err := s.runRepo.Finalize(ctx, msg.ImportRunID)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	if !finalized {
		return nil
	}

	if err := s.completions.DeleteForRun(ctx, msg.ImportRunID); err != nil {
		logger.CtxWarn(ctx, "Failed to clean completion rows: %v", err)
	}
	logger.CtxInfo(ctx, "All %d batches processed, run completed", msg.TotalBatches)
	return nil
}

// importBatch upserts every record of a batch. Per-record failures are
// captured in the result; they never abort the rest of the batch.
func (s *ProcessorService) importBatch(ctx context.Context, records []domain.JobRecord) domain.BatchResult {
	var result domain.BatchResult
	for i := range records {
		outcome, err := s.importSingleJob(ctx, &records[i])
		if err != nil {
			result.FailedJobs++
			result.FailedDetails = append(result.FailedDetails, domain.FailedJobDetail{
				ExternalID: records[i].ExternalID,
				Reason:     err.Error(),
				Timestamp:  time.Now(),
			})
			continue
		}
		if outcome.IsNew {
			result.NewJobs++
		} else if outcome.IsUpdated {
			result.UpdatedJobs++
		}
	}
	return result
}

// importSingleJob upserts one record keyed on its external ID. Unchanged
// records are left untouched and count as neither new nor updated.
func (s *ProcessorService) importSingleJob(ctx context.Context, record *domain.JobRecord) (domain.ImportOutcome, error) {
	existing, err := s.jobs.FindByExternalID(ctx, record.ExternalID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ImportOutcome{}, err
		}

		now := time.Now()
		record.ID = uuid.NewString()
		record.FirstImportedAt = now
		record.LastUpdatedAt = now
		if err := s.jobs.Insert(ctx, record); err != nil {
			if errors.Is(err, domain.ErrDuplicateJob) {
				// Lost an insert race within the same sweep; the winning copy
				// is equivalent.
				return domain.ImportOutcome{}, fmt.Errorf("duplicate job: %s", record.ExternalID)
			}
			return domain.ImportOutcome{}, err
		}
		return domain.ImportOutcome{IsNew: true}, nil
	}

	if !existing.HasChanged(record) {
		return domain.ImportOutcome{}, nil
	}

	existing.ApplyUpdate(record, time.Now())
	if err := s.jobs.Update(ctx, existing); err != nil {
		return domain.ImportOutcome{}, err
	}
	return domain.ImportOutcome{IsUpdated: true}, nil
}
