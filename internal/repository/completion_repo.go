package repository

import (
	"context"

	"github.com/timmy/jobflow/internal/domain"
	"gorm.io/gorm"
)

// CompletionRepository reads and prunes the batch completion rows that back
// the exactly-once finalization decision. Rows are written by
// ImportRunRepository.RecordBatch, atomically with the run's counters; they
// must survive worker restarts, so an in-memory counter would not do.
type CompletionRepository struct {
	db *gorm.DB
}

// NewCompletionRepository creates a new CompletionRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *CompletionRepository: repository instance bound to db.
func NewCompletionRepository(db *gorm.DB) *CompletionRepository {
	return &CompletionRepository{db: db}
}

// CountCompletions counts recorded batch completions for a run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runID: run to count completions for.
// Returns:
//   - int64: number of distinct completed batches.
//   - error: non-nil if the query fails.
func (r *CompletionRepository) CountCompletions(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.BatchCompletion{}).
		Where("import_run_id = ?", runID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteForRun removes completion rows for a finalized run. They have served
// their purpose once the run is terminal.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runID: run whose completion rows are removed.
// Returns:
//   - error: non-nil if the delete fails.
func (r *CompletionRepository) DeleteForRun(ctx context.Context, runID string) error {
	return r.db.WithContext(ctx).
		Where("import_run_id = ?", runID).
		Delete(&domain.BatchCompletion{}).Error
}
