package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/jobflow/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pausedSettingName = "paused"

// stallTimeout is how long a message may sit active before it is treated as
// abandoned by a dead worker and becomes claimable again.
const stallTimeout = 5 * time.Minute

// QueueRepository is the storage engine behind the durable batch queue.
// Messages live in a table rather than process memory so that enqueued work
// survives restarts and can be shared between the API process and standalone
// workers. Claims use an optimistic conditional update keyed on the message
// status, so several pollers may race for the same row and exactly one wins.
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *QueueRepository: repository instance bound to db.
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue appends a message in waiting state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - payload: JSON-encoded batch message.
//   - maxAttempts: delivery attempts before the message is parked as failed.
// Returns:
//   - *domain.QueueMessage: the persisted message with its assigned ID.
//   - error: non-nil if the insert fails.
func (r *QueueRepository) Enqueue(ctx context.Context, payload string, maxAttempts int) (*domain.QueueMessage, error) {
	msg := domain.QueueMessage{
		Payload:     payload,
		Status:      domain.MessageStatusWaiting,
		MaxAttempts: maxAttempts,
		NextRunAt:   time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// Claim attempts to take ownership of the oldest deliverable message. A
// message is deliverable when it is waiting, delayed with its NextRunAt in the
// past, or active but untouched for longer than the stall timeout (its worker
// is presumed dead and the message re-enters the attempt path). Ownership is
// taken with a conditional update on status and updated_at; losing the race to
// another poller returns no message rather than an error.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.QueueMessage: claimed message with incremented attempt count, or
//     nil when nothing is deliverable.
//   - error: non-nil on query failure.
func (r *QueueRepository) Claim(ctx context.Context) (*domain.QueueMessage, error) {
	now := time.Now()

	var candidate domain.QueueMessage
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND next_run_at <= ?) OR (status = ? AND updated_at < ?)",
			domain.MessageStatusWaiting,
			domain.MessageStatusDelayed, now,
			domain.MessageStatusActive, now.Add(-stallTimeout)).
		Order("id ASC").
		First(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// The updated_at guard covers the stalled-active case, where the status
	// alone does not change on claim.
	res := r.db.WithContext(ctx).Model(&domain.QueueMessage{}).
		Where("id = ? AND status = ? AND updated_at = ?", candidate.ID, candidate.Status, candidate.UpdatedAt).
		Updates(map[string]interface{}{
			"status":   domain.MessageStatusActive,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race; the caller polls again.
		return nil, nil
	}

	candidate.Status = domain.MessageStatusActive
	candidate.Attempts++
	return &candidate, nil
}

// Complete marks an active message as successfully processed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: message ID.
// Returns:
//   - error: non-nil if the update fails.
func (r *QueueRepository) Complete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&domain.QueueMessage{}).
		Where("id = ?", id).
		Update("status", domain.MessageStatusCompleted).Error
}

// Fail records a processing failure. While attempts remain the message is
// parked as delayed with an exponential backoff (retryDelay * 2^(attempts-1));
// once attempts are exhausted it is parked as failed for manual retry.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - msg: the claimed message that failed.
//   - cause: error description stored on the message.
//   - retryDelay: base delay for the backoff schedule.
// Returns:
//   - bool: true if the message will be redelivered, false if it is parked as failed.
//   - error: non-nil if the update fails.
func (r *QueueRepository) Fail(ctx context.Context, msg *domain.QueueMessage, cause string, retryDelay time.Duration) (bool, error) {
	if msg.Attempts >= msg.MaxAttempts {
		err := r.db.WithContext(ctx).Model(&domain.QueueMessage{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{
				"status":     domain.MessageStatusFailed,
				"last_error": cause,
			}).Error
		return false, err
	}

	backoff := retryDelay << (msg.Attempts - 1)
	err := r.db.WithContext(ctx).Model(&domain.QueueMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":      domain.MessageStatusDelayed,
			"next_run_at": time.Now().Add(backoff),
			"last_error":  cause,
		}).Error
	return err == nil, err
}

// Stats counts messages by delivery state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.QueueStats: counts per state plus the total.
//   - error: non-nil if the query fails.
func (r *QueueRepository) Stats(ctx context.Context) (*domain.QueueStats, error) {
	var rows []struct {
		Status domain.MessageStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.QueueMessage{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &domain.QueueStats{}
	for _, row := range rows {
		switch row.Status {
		case domain.MessageStatusWaiting:
			stats.Waiting = row.Count
		case domain.MessageStatusActive:
			stats.Active = row.Count
		case domain.MessageStatusCompleted:
			stats.Completed = row.Count
		case domain.MessageStatusFailed:
			stats.Failed = row.Count
		case domain.MessageStatusDelayed:
			stats.Delayed = row.Count
		}
		stats.Total += row.Count
	}
	return stats, nil
}

// SetPaused stores the durable pause flag. Workers in every process consult it
// before claiming.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - paused: desired dispatch state.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *QueueRepository) SetPaused(ctx context.Context, paused bool) error {
	value := "false"
	if paused {
		value = "true"
	}
	setting := domain.QueueSetting{
		Name:      pausedSettingName,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&setting).Error
}

// IsPaused reports the durable pause flag. A missing row means not paused.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - bool: true when dispatch is paused.
//   - error: non-nil on query failure.
func (r *QueueRepository) IsPaused(ctx context.Context) (bool, error) {
	var setting domain.QueueSetting
	err := r.db.WithContext(ctx).First(&setting, "name = ?", pausedSettingName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return setting.Value == "true", nil
}

// RetryFailed moves all failed messages back to waiting with a fresh attempt
// budget.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of messages requeued.
//   - error: non-nil if the update fails.
func (r *QueueRepository) RetryFailed(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.QueueMessage{}).
		Where("status = ?", domain.MessageStatusFailed).
		Updates(map[string]interface{}{
			"status":      domain.MessageStatusWaiting,
			"attempts":    0,
			"next_run_at": time.Now(),
			"last_error":  "",
		})
	return res.RowsAffected, res.Error
}

// Clean deletes terminal messages older than the grace period.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - olderThan: minimum age of messages to remove.
// Returns:
//   - int64: number of messages deleted.
//   - error: non-nil if the delete fails.
func (r *QueueRepository) Clean(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]domain.MessageStatus{domain.MessageStatusCompleted, domain.MessageStatusFailed}, cutoff).
		Delete(&domain.QueueMessage{})
	return res.RowsAffected, res.Error
}

// PendingCount counts messages still awaiting delivery or processing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: waiting plus delayed plus active messages.
//   - error: non-nil if the query fails.
func (r *QueueRepository) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.QueueMessage{}).
		Where("status IN ?", []domain.MessageStatus{
			domain.MessageStatusWaiting, domain.MessageStatusDelayed, domain.MessageStatusActive,
		}).
		Count(&count).Error
	return count, err
}
