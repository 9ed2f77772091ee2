package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/timmy/jobflow/internal/domain"
)

func newRun(source string) *domain.ImportRun {
	return &domain.ImportRun{
		ID:        uuid.NewString(),
		Source:    source,
		StartTime: time.Now(),
		Status:    domain.RunStatusPending,
	}
}

func TestImportRunLifecycle(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	run := newRun("https://example.com/feed")
	run.TotalFetched = 120
	require.NoError(t, repo.Create(ctx, run))

	require.NoError(t, repo.MarkProcessing(ctx, run.ID, 3))

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusProcessing, got.Status)
	require.Equal(t, 3, got.TotalBatches)
	require.Equal(t, 120, got.TotalFetched)

	finalized, err := repo.Finalize(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, finalized)

	got, err = repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	require.GreaterOrEqual(t, got.DurationMs, int64(0))
}

func TestMarkProcessingRequiresPending(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	run := newRun("https://example.com/feed")
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.MarkProcessing(ctx, run.ID, 2))

	// Second transition finds no pending run
	err := repo.MarkProcessing(ctx, run.ID, 2)
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	run := newRun("https://example.com/feed")
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.MarkProcessing(ctx, run.ID, 1))

	first, err := repo.Finalize(ctx, run.ID)
	require.NoError(t, err)
	second, err := repo.Finalize(ctx, run.ID)
	require.NoError(t, err)

	require.True(t, first)
	require.False(t, second, "terminal transition must happen exactly once")
}

func TestMarkFailedGuards(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	run := newRun("https://example.com/feed")
	require.NoError(t, repo.Create(ctx, run))

	failed, err := repo.MarkFailed(ctx, run.ID, "No jobs fetched")
	require.NoError(t, err)
	require.True(t, failed)

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, got.Status)
	require.Equal(t, "No jobs fetched", got.Error)
	require.NotNil(t, got.EndTime)

	// Already terminal: no-op
	failed, err = repo.MarkFailed(ctx, run.ID, "again")
	require.NoError(t, err)
	require.False(t, failed)

	// Missing run: no-op, not an error
	failed, err = repo.MarkFailed(ctx, "does-not-exist", "whatever")
	require.NoError(t, err)
	require.False(t, failed)
}

func TestRecordBatchAccumulates(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	run := newRun("https://example.com/feed")
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.MarkProcessing(ctx, run.ID, 2))

	recorded, err := repo.RecordBatch(ctx, run.ID, 1, &domain.BatchResult{
		NewJobs: 10, UpdatedJobs: 3, FailedJobs: 1,
		FailedDetails: []domain.FailedJobDetail{
			{ExternalID: "bad-1", Reason: "duplicate job: bad-1"},
		},
	})
	require.NoError(t, err)
	require.True(t, recorded)

	recorded, err = repo.RecordBatch(ctx, run.ID, 2, &domain.BatchResult{
		NewJobs: 5, UpdatedJobs: 2, FailedJobs: 2,
		FailedDetails: []domain.FailedJobDetail{
			{ExternalID: "bad-2", Reason: "duplicate job: bad-2"},
			{ExternalID: "bad-3", Reason: "duplicate job: bad-3"},
		},
	})
	require.NoError(t, err)
	require.True(t, recorded)

	got, err := repo.GetByIDWithFailures(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 15, got.NewJobs)
	require.Equal(t, 5, got.UpdatedJobs)
	require.Equal(t, 3, got.FailedJobs)
	require.Equal(t, 20, got.TotalImported)
	require.Len(t, got.FailedJobDetails, 3)
	require.Equal(t, "bad-1", got.FailedJobDetails[0].ExternalID)
}

func TestRecordBatchIdempotentPerBatchNumber(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	run := newRun("https://example.com/feed")
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.MarkProcessing(ctx, run.ID, 1))

	recorded, err := repo.RecordBatch(ctx, run.ID, 1, &domain.BatchResult{NewJobs: 8})
	require.NoError(t, err)
	require.True(t, recorded)

	// Redelivered batch: no second row, no double count
	recorded, err = repo.RecordBatch(ctx, run.ID, 1, &domain.BatchResult{NewJobs: 8})
	require.NoError(t, err)
	require.False(t, recorded)

	got, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 8, got.NewJobs)

	completions := NewCompletionRepository(repo.db)
	count, err := completions.CountCompletions(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRecordBatchMissingRunLeavesNoCompletionRow(t *testing.T) {
	db := newTestDB(t)
	repo := NewImportRunRepository(db)
	ctx := context.Background()

	_, err := repo.RecordBatch(ctx, "missing", 1, &domain.BatchResult{NewJobs: 1})
	require.ErrorIs(t, err, domain.ErrRunNotFound)

	// The transaction rolled back: the completion insert did not survive, so a
	// later attempt repeats the whole step.
	count, err := NewCompletionRepository(db).CountCompletions(ctx, "missing")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestListFilters(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	completed := newRun("https://jobicy.com/?feed=job_feed")
	require.NoError(t, repo.Create(ctx, completed))
	require.NoError(t, repo.MarkProcessing(ctx, completed.ID, 1))
	_, err := repo.Finalize(ctx, completed.ID)
	require.NoError(t, err)

	failed := newRun("https://www.higheredjobs.com/rss/articleFeed.cfm")
	require.NoError(t, repo.Create(ctx, failed))
	_, err = repo.MarkFailed(ctx, failed.ID, "No jobs fetched")
	require.NoError(t, err)

	runs, total, err := repo.List(ctx, RunQuery{Status: domain.RunStatusFailed})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, runs, 1)
	require.Equal(t, failed.ID, runs[0].ID)

	runs, total, err = repo.List(ctx, RunQuery{Source: "jobicy"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, completed.ID, runs[0].ID)

	_, total, err = repo.List(ctx, RunQuery{})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
}

func TestStatsWindow(t *testing.T) {
	repo := NewImportRunRepository(newTestDB(t))
	ctx := context.Background()

	run := newRun("https://example.com/feed")
	run.TotalFetched = 40
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.MarkProcessing(ctx, run.ID, 1))
	_, err := repo.RecordBatch(ctx, run.ID, 1, &domain.BatchResult{NewJobs: 30, UpdatedJobs: 5, FailedJobs: 5})
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, run.ID)
	require.NoError(t, err)

	failedRun := newRun("https://example.com/other")
	require.NoError(t, repo.Create(ctx, failedRun))
	_, err = repo.MarkFailed(ctx, failedRun.ID, "boom")
	require.NoError(t, err)

	overall, bySource, err := repo.Stats(ctx, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Equal(t, int64(2), overall.TotalImports)
	require.Equal(t, int64(40), overall.TotalFetched)
	require.Equal(t, int64(35), overall.TotalImported)
	require.Equal(t, int64(30), overall.TotalNew)
	require.Equal(t, int64(5), overall.TotalUpdated)
	require.Equal(t, int64(5), overall.TotalFailed)
	require.Equal(t, int64(1), overall.SuccessfulImports)
	require.Equal(t, int64(1), overall.FailedImports)
	require.Len(t, bySource, 2)

	// Window excluding everything
	overall, bySource, err = repo.Stats(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, overall.TotalImports)
	require.Empty(t, bySource)
}
