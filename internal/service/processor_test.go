package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repository.Migrate(db))
	return db
}

type processorFixture struct {
	db          *gorm.DB
	jobRepo     *repository.JobRepository
	runRepo     *repository.ImportRunRepository
	completions *repository.CompletionRepository
	processor   *ProcessorService
}

func newProcessorFixture(t *testing.T) *processorFixture {
	db := newTestDB(t)
	jobRepo := repository.NewJobRepository(db)
	runRepo := repository.NewImportRunRepository(db)
	completions := repository.NewCompletionRepository(db)
	return &processorFixture{
		db:          db,
		jobRepo:     jobRepo,
		runRepo:     runRepo,
		completions: completions,
		processor:   NewProcessorService(jobRepo, runRepo, completions),
	}
}

func (f *processorFixture) newProcessingRun(t *testing.T, totalBatches int) *domain.ImportRun {
	t.Helper()
	run := &domain.ImportRun{
		ID:        uuid.NewString(),
		Source:    "https://example.com/feed",
		StartTime: time.Now(),
		Status:    domain.RunStatusPending,
	}
	require.NoError(t, f.runRepo.Create(context.Background(), run))
	require.NoError(t, f.runRepo.MarkProcessing(context.Background(), run.ID, totalBatches))
	return run
}

func feedRecords(n int) []domain.JobRecord {
	records := make([]domain.JobRecord, n)
	for i := range records {
		records[i] = domain.JobRecord{
			ExternalID:    fmt.Sprintf("job-%d", i),
			Title:         fmt.Sprintf("Role %d", i),
			Description:   "Do things",
			Company:       "Acme",
			Location:      "Remote",
			Category:      "Engineering",
			JobType:       "Full-time",
			URL:           fmt.Sprintf("https://example.com/jobs/%d", i),
			ApplyURL:      fmt.Sprintf("https://example.com/jobs/%d", i),
			PublishedDate: time.Now().Add(-time.Hour),
			Source:        "https://example.com/feed",
		}
	}
	return records
}

func TestProcessBatchImportsAndFinalizes(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	run := f.newProcessingRun(t, 1)

	msg := &domain.BatchMessage{
		ImportRunID:  run.ID,
		Source:       run.Source,
		Records:      feedRecords(5),
		BatchNumber:  1,
		TotalBatches: 1,
	}
	require.NoError(t, f.processor.ProcessBatch(ctx, msg))

	got, err := f.runRepo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Equal(t, 5, got.NewJobs)
	require.Zero(t, got.UpdatedJobs)
	require.Zero(t, got.FailedJobs)
	require.Equal(t, 5, got.TotalImported)
	require.NotNil(t, got.EndTime)

	// Completion rows are cleaned after finalization
	var completions int64
	require.NoError(t, f.db.Model(&domain.BatchCompletion{}).Count(&completions).Error)
	require.Zero(t, completions)
}

func TestProcessBatchMultiBatchRun(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	run := f.newProcessingRun(t, 3)

	records := feedRecords(120)
	batches := CreateBatches(records, 50)
	require.Len(t, batches, 3)

	for i, batch := range batches {
		msg := &domain.BatchMessage{
			ImportRunID:  run.ID,
			Source:       run.Source,
			Records:      batch,
			BatchNumber:  i + 1,
			TotalBatches: 3,
		}
		require.NoError(t, f.processor.ProcessBatch(ctx, msg))

		got, err := f.runRepo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		if i < 2 {
			require.Equal(t, domain.RunStatusProcessing, got.Status, "run must stay open until the last batch")
		}
	}

	got, err := f.runRepo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Equal(t, 120, got.NewJobs)
	require.Equal(t, 120, got.TotalImported)
}

func TestProcessBatchRedeliveryDoesNotDoubleCount(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	run := f.newProcessingRun(t, 2)

	msg := &domain.BatchMessage{
		ImportRunID:  run.ID,
		Source:       run.Source,
		Records:      feedRecords(10),
		BatchNumber:  1,
		TotalBatches: 2,
	}
	require.NoError(t, f.processor.ProcessBatch(ctx, msg))
	// Redelivery of the same batch
	require.NoError(t, f.processor.ProcessBatch(ctx, msg))

	got, err := f.runRepo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.NewJobs, "redelivered batch must not double-count")
	require.Equal(t, domain.RunStatusProcessing, got.Status, "one batch still outstanding")
}

func TestProcessBatchRedeliveryAfterCompletionIsNoop(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	run := f.newProcessingRun(t, 1)

	msg := &domain.BatchMessage{
		ImportRunID:  run.ID,
		Source:       run.Source,
		Records:      feedRecords(3),
		BatchNumber:  1,
		TotalBatches: 1,
	}
	require.NoError(t, f.processor.ProcessBatch(ctx, msg))
	require.NoError(t, f.processor.ProcessBatch(ctx, msg))

	got, err := f.runRepo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Equal(t, 3, got.NewJobs)
}

func TestProcessBatchRedeliveryAfterInterruptedFinalize(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	run := f.newProcessingRun(t, 1)

	// A prior attempt recorded the last batch but died before closing the run.
	require.NoError(t, f.db.Create(&domain.BatchCompletion{
		ImportRunID: run.ID,
		BatchNumber: 1,
		CompletedAt: time.Now(),
	}).Error)

	msg := &domain.BatchMessage{
		ImportRunID:  run.ID,
		Source:       run.Source,
		Records:      feedRecords(5),
		BatchNumber:  1,
		TotalBatches: 1,
	}
	require.NoError(t, f.processor.ProcessBatch(ctx, msg))

	// The redelivery must not re-count the batch, but it must still close the
	// run instead of leaving it processing forever.
	got, err := f.runRepo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Zero(t, got.NewJobs, "recorded batch must not be counted again")
	require.NotNil(t, got.EndTime)

	count, err := f.completions.CountCompletions(ctx, run.ID)
	require.NoError(t, err)
	require.Zero(t, count, "completion rows are cleaned once the run is terminal")
}

func TestProcessBatchUpdatesChangedJobs(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	// First sweep inserts
	first := f.newProcessingRun(t, 1)
	records := feedRecords(4)
	require.NoError(t, f.processor.ProcessBatch(ctx, &domain.BatchMessage{
		ImportRunID: first.ID, Source: first.Source,
		Records: records, BatchNumber: 1, TotalBatches: 1,
	}))

	// Second sweep: one record changed, the rest identical
	second := f.newProcessingRun(t, 1)
	records[2].Title = "Retitled Role"
	require.NoError(t, f.processor.ProcessBatch(ctx, &domain.BatchMessage{
		ImportRunID: second.ID, Source: second.Source,
		Records: records, BatchNumber: 1, TotalBatches: 1,
	}))

	got, err := f.runRepo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.Zero(t, got.NewJobs)
	require.Equal(t, 1, got.UpdatedJobs, "only the changed record counts as updated")
	require.Equal(t, 1, got.TotalImported)

	job, err := f.jobRepo.FindByExternalID(ctx, records[2].ExternalID)
	require.NoError(t, err)
	require.Equal(t, "Retitled Role", job.Title)
	require.Equal(t, 1, job.UpdateCount)
}

func TestProcessBatchMissingRunSurfacesError(t *testing.T) {
	f := newProcessorFixture(t)

	err := f.processor.ProcessBatch(context.Background(), &domain.BatchMessage{
		ImportRunID: "gone", Source: "https://example.com/feed",
		Records: feedRecords(1), BatchNumber: 1, TotalBatches: 1,
	})
	require.ErrorIs(t, err, domain.ErrRunNotFound,
		"a vanished run hands the batch back to the redelivery policy")

	// Tracking for the vanished run is discarded
	count, err := f.completions.CountCompletions(context.Background(), "gone")
	require.NoError(t, err)
	require.Zero(t, count)
}

// duplicateJobStore forces the insert race branch: lookups miss, inserts
// conflict.
type duplicateJobStore struct {
	inner JobStore
	racy  map[string]bool
}

func (s *duplicateJobStore) FindByExternalID(ctx context.Context, externalID string) (*domain.JobRecord, error) {
	if s.racy[externalID] {
		return nil, gorm.ErrRecordNotFound
	}
	return s.inner.FindByExternalID(ctx, externalID)
}

func (s *duplicateJobStore) Insert(ctx context.Context, job *domain.JobRecord) error {
	if s.racy[job.ExternalID] {
		return domain.ErrDuplicateJob
	}
	return s.inner.Insert(ctx, job)
}

func (s *duplicateJobStore) Update(ctx context.Context, job *domain.JobRecord) error {
	return s.inner.Update(ctx, job)
}

func TestProcessBatchInsertRaceCountedAsFailure(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	run := f.newProcessingRun(t, 1)

	records := feedRecords(5)
	store := &duplicateJobStore{
		inner: f.jobRepo,
		racy:  map[string]bool{records[3].ExternalID: true},
	}
	processor := NewProcessorService(store, f.runRepo,
		repository.NewCompletionRepository(f.db))

	require.NoError(t, processor.ProcessBatch(ctx, &domain.BatchMessage{
		ImportRunID: run.ID, Source: run.Source,
		Records: records, BatchNumber: 1, TotalBatches: 1,
	}))

	got, err := f.runRepo.GetByIDWithFailures(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Equal(t, 4, got.NewJobs)
	require.Equal(t, 1, got.FailedJobs)
	require.Len(t, got.FailedJobDetails, 1)
	require.Equal(t, records[3].ExternalID, got.FailedJobDetails[0].ExternalID)
	require.Contains(t, got.FailedJobDetails[0].Reason, "duplicate job")
}
