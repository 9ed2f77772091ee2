package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/jobflow/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImportRunRepository handles import run ledger operations.
//
// Counter updates are field-level atomic increments and failure details are
// append-only rows: concurrent batches of the same run completing on different
// workers can never lose each other's contributions the way a read-modify-write
// of the whole row would.
type ImportRunRepository struct {
	db *gorm.DB
}

// NewImportRunRepository creates a new ImportRunRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ImportRunRepository: repository instance bound to db.
func NewImportRunRepository(db *gorm.DB) *ImportRunRepository {
	return &ImportRunRepository{db: db}
}

// Create inserts a new import run ledger entry.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - run: run to persist; Status and StartTime must be set by the caller.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ImportRunRepository) Create(ctx context.Context, run *domain.ImportRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetByID retrieves a run by its ID, without failure details.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
// Returns:
//   - *domain.ImportRun: run if found.
//   - error: domain.ErrRunNotFound when absent; non-nil on lookup failure.
func (r *ImportRunRepository) GetByID(ctx context.Context, id string) (*domain.ImportRun, error) {
	var run domain.ImportRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// GetByIDWithFailures retrieves a run including its failure detail rows,
// ordered by insertion.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
// Returns:
//   - *domain.ImportRun: run with FailedJobDetails populated.
//   - error: domain.ErrRunNotFound when absent; non-nil on lookup failure.
func (r *ImportRunRepository) GetByIDWithFailures(ctx context.Context, id string) (*domain.ImportRun, error) {
	var run domain.ImportRun
	err := r.db.WithContext(ctx).
		Preload("FailedJobDetails", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// MarkProcessing moves a pending run to processing and records its batch total.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
//   - totalBatches: number of batches enqueued for the run.
// Returns:
//   - error: domain.ErrRunNotFound if no pending run matched; non-nil on failure.
func (r *ImportRunRepository) MarkProcessing(ctx context.Context, id string, totalBatches int) error {
	res := r.db.WithContext(ctx).Model(&domain.ImportRun{}).
		Where("id = ? AND status = ?", id, domain.RunStatusPending).
		Updates(map[string]interface{}{
			"status":        domain.RunStatusProcessing,
			"total_batches": totalBatches,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// RecordBatch records one batch completion and folds its results into the
// run's cumulative counters in a single transaction. The completion insert is
// insert-or-ignore on the (run, batch number) unique index, so a redelivered
// batch finds the row present and changes nothing; an attempt that fails
// partway rolls the row back together with the counters, and the redelivery
// repeats the whole step. Increments are performed in SQL so concurrent
// batches of the same run cannot overwrite each other.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runID: run the batch belongs to.
//   - batchNumber: 1-based position of the batch within the run.
//   - result: per-batch counters and failure details.
// Returns:
//   - bool: true if this call recorded the batch, false if it was already recorded.
//   - error: domain.ErrRunNotFound if the ledger entry has vanished; non-nil on failure.
func (r *ImportRunRepository) RecordBatch(ctx context.Context, runID string, batchNumber int, result *domain.BatchResult) (bool, error) {
	recorded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.BatchCompletion{
			ImportRunID: runID,
			BatchNumber: batchNumber,
			CompletedAt: time.Now(),
		})
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return nil
		}
		recorded = true

		res := tx.Model(&domain.ImportRun{}).
			Where("id = ?", runID).
			Updates(map[string]interface{}{
				"new_jobs":       gorm.Expr("new_jobs + ?", result.NewJobs),
				"updated_jobs":   gorm.Expr("updated_jobs + ?", result.UpdatedJobs),
				"failed_jobs":    gorm.Expr("failed_jobs + ?", result.FailedJobs),
				"total_imported": gorm.Expr("total_imported + ?", result.NewJobs+result.UpdatedJobs),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrRunNotFound
		}

		if len(result.FailedDetails) == 0 {
			return nil
		}
		details := make([]domain.FailedJobDetail, len(result.FailedDetails))
		copy(details, result.FailedDetails)
		now := time.Now()
		for i := range details {
			details[i].ID = 0
			details[i].ImportRunID = runID
			if details[i].Timestamp.IsZero() {
				details[i].Timestamp = now
			}
		}
		return tx.Create(&details).Error
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// Finalize moves a processing run to completed, setting EndTime and DurationMs
// exactly once. The conditional update guarantees that concurrent callers
// racing on the last batch finalize only once.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
// Returns:
//   - bool: true if this call performed the terminal transition.
//   - error: non-nil on failure.
func (r *ImportRunRepository) Finalize(ctx context.Context, id string) (bool, error) {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	endTime := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ImportRun{}).
		Where("id = ? AND status = ?", id, domain.RunStatusProcessing).
		Updates(map[string]interface{}{
			"status":      domain.RunStatusCompleted,
			"end_time":    endTime,
			"duration_ms": endTime.Sub(run.StartTime).Milliseconds(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed moves a non-terminal run to failed with the given cause. Calling
// it on a terminal or missing run is a no-op.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: run ID.
//   - cause: error description stored on the run.
// Returns:
//   - bool: true if this call performed the terminal transition.
//   - error: non-nil on failure.
func (r *ImportRunRepository) MarkFailed(ctx context.Context, id string, cause string) (bool, error) {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return false, nil
		}
		return false, err
	}

	endTime := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ImportRun{}).
		Where("id = ? AND status IN ?", id, []domain.RunStatus{domain.RunStatusPending, domain.RunStatusProcessing}).
		Updates(map[string]interface{}{
			"status":      domain.RunStatusFailed,
			"end_time":    endTime,
			"duration_ms": endTime.Sub(run.StartTime).Milliseconds(),
			"error":       cause,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RunQuery describes the history listing filters.
type RunQuery struct {
	Status    domain.RunStatus
	Source    string // substring match on the source URL
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

// List retrieves runs matching the query, newest first, without failure
// details.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - q: listing filters and pagination.
// Returns:
//   - []domain.ImportRun: matching runs.
//   - int64: total match count before pagination.
//   - error: non-nil if the query fails.
func (r *ImportRunRepository) List(ctx context.Context, q RunQuery) ([]domain.ImportRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.ImportRun{})

	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.Source != "" {
		query = query.Where("source LIKE ?", "%"+q.Source+"%")
	}
	if q.StartDate != nil {
		query = query.Where("start_time >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		query = query.Where("start_time <= ?", *q.EndDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 10
	}

	var runs []domain.ImportRun
	if err := query.
		Order("start_time DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// OverallStats aggregates run statistics over a trailing window.
type OverallStats struct {
	TotalImports      int64   `json:"total_imports"`
	TotalFetched      int64   `json:"total_fetched"`
	TotalImported     int64   `json:"total_imported"`
	TotalNew          int64   `json:"total_new"`
	TotalUpdated      int64   `json:"total_updated"`
	TotalFailed       int64   `json:"total_failed"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	SuccessfulImports int64   `json:"successful_imports"`
	FailedImports     int64   `json:"failed_imports"`
}

// SourceStats aggregates run statistics for one source.
type SourceStats struct {
	Source        string  `json:"source"`
	Imports       int64   `json:"imports"`
	TotalFetched  int64   `json:"total_fetched"`
	TotalImported int64   `json:"total_imported"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Stats computes overall and per-source aggregates for runs started at or
// after the given time.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - since: start of the trailing window.
// Returns:
//   - *OverallStats: window-wide aggregates.
//   - []SourceStats: per-source aggregates ordered by total imported, descending.
//   - error: non-nil if either query fails.
func (r *ImportRunRepository) Stats(ctx context.Context, since time.Time) (*OverallStats, []SourceStats, error) {
	var overall OverallStats
	err := r.db.WithContext(ctx).Model(&domain.ImportRun{}).
		Select(`COUNT(*) AS total_imports,
			COALESCE(SUM(total_fetched), 0) AS total_fetched,
			COALESCE(SUM(total_imported), 0) AS total_imported,
			COALESCE(SUM(new_jobs), 0) AS total_new,
			COALESCE(SUM(updated_jobs), 0) AS total_updated,
			COALESCE(SUM(failed_jobs), 0) AS total_failed,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS successful_imports,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed_imports`).
		Where("start_time >= ?", since).
		Scan(&overall).Error
	if err != nil {
		return nil, nil, err
	}

	var bySource []SourceStats
	err = r.db.WithContext(ctx).Model(&domain.ImportRun{}).
		Select(`source,
			COUNT(*) AS imports,
			COALESCE(SUM(total_fetched), 0) AS total_fetched,
			COALESCE(SUM(total_imported), 0) AS total_imported,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms`).
		Where("start_time >= ?", since).
		Group("source").
		Order("total_imported DESC").
		Scan(&bySource).Error
	if err != nil {
		return nil, nil, err
	}

	return &overall, bySource, nil
}

// ListByStatus retrieves runs in the given status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: run status to filter by.
// Returns:
//   - []domain.ImportRun: matching runs.
//   - error: non-nil if the query fails.
func (r *ImportRunRepository) ListByStatus(ctx context.Context, status domain.RunStatus) ([]domain.ImportRun, error) {
	var runs []domain.ImportRun
	if err := r.db.WithContext(ctx).Where("status = ?", status).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
