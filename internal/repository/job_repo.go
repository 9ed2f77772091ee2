package repository

import (
	"context"
	"errors"

	"github.com/timmy/jobflow/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles job record data operations.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// FindByExternalID retrieves a job by its external (natural) key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - externalID: natural key of the posting.
// Returns:
//   - *domain.JobRecord: job record if found.
//   - error: gorm.ErrRecordNotFound when absent; non-nil on lookup failure.
func (r *JobRepository) FindByExternalID(ctx context.Context, externalID string) (*domain.JobRecord, error) {
	var job domain.JobRecord
	if err := r.db.WithContext(ctx).First(&job, "external_id = ?", externalID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Insert creates a new job record. A unique-constraint violation on external_id
// (lost race against a concurrent insert of the same key) is surfaced as
// domain.ErrDuplicateJob.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: domain.ErrDuplicateJob on key conflict; non-nil if the insert fails.
func (r *JobRepository) Insert(ctx context.Context, job *domain.JobRecord) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateJob
		}
		return err
	}
	return nil
}

// Update saves an existing job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) Update(ctx context.Context, job *domain.JobRecord) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// CountBySource counts stored jobs for one origin feed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - source: origin feed URL.
// Returns:
//   - int64: number of matching records.
//   - error: non-nil if the query fails.
func (r *JobRepository) CountBySource(ctx context.Context, source string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.JobRecord{}).Where("source = ?", source).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListBySource retrieves jobs for one origin feed with pagination, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - source: origin feed URL; empty means all.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.JobRecord: matching job records.
//   - error: non-nil if the query fails.
func (r *JobRepository) ListBySource(ctx context.Context, source string, limit, offset int) ([]domain.JobRecord, error) {
	var jobs []domain.JobRecord
	query := r.db.WithContext(ctx)
	if source != "" {
		query = query.Where("source = ?", source)
	}
	if err := query.
		Order("published_date DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
