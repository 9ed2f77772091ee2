package service

import (
	"context"
	"time"

	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/logger"
	"github.com/timmy/jobflow/internal/repository"
)

// QueueAdminService exposes queue operations to the control plane.
type QueueAdminService struct {
	queueRepo *repository.QueueRepository
}

// NewQueueAdminService creates a new QueueAdminService.
// Parameters:
//   - queueRepo: durable queue storage.
// Returns:
//   - *QueueAdminService: service instance.
func NewQueueAdminService(queueRepo *repository.QueueRepository) *QueueAdminService {
	return &QueueAdminService{queueRepo: queueRepo}
}

// Stats returns message counts by delivery state.
func (s *QueueAdminService) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return s.queueRepo.Stats(ctx)
}

// Pause stops dispatch across all worker processes. In-flight batches finish.
func (s *QueueAdminService) Pause(ctx context.Context) error {
	logger.CtxInfo(ctx, "Pausing queue dispatch")
	return s.queueRepo.SetPaused(ctx, true)
}

// Resume restores dispatch across all worker processes.
func (s *QueueAdminService) Resume(ctx context.Context) error {
	logger.CtxInfo(ctx, "Resuming queue dispatch")
	return s.queueRepo.SetPaused(ctx, false)
}

// RetryFailed requeues all permanently failed messages with a fresh attempt
// budget.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of messages requeued.
//   - error: non-nil if the update fails.
func (s *QueueAdminService) RetryFailed(ctx context.Context) (int64, error) {
	count, err := s.queueRepo.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	logger.With(logger.Fields{logger.FieldCount: int(count)}).
		Info(ctx, "Requeued failed messages")
	return count, nil
}

// Clean removes terminal messages older than the grace period.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - gracePeriod: minimum age of messages to remove; 24h when zero.
// Returns:
//   - int64: number of messages removed.
//   - error: non-nil if the delete fails.
func (s *QueueAdminService) Clean(ctx context.Context, gracePeriod time.Duration) (int64, error) {
	if gracePeriod <= 0 {
		gracePeriod = 24 * time.Hour
	}
	return s.queueRepo.Clean(ctx, gracePeriod)
}
