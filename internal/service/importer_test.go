package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/feed"
	"github.com/timmy/jobflow/internal/repository"
)

func TestCreateBatches(t *testing.T) {
	cases := []struct {
		name      string
		records   int
		batchSize int
		wantSizes []int
	}{
		{"empty input", 0, 50, nil},
		{"single partial batch", 10, 50, []int{10}},
		{"exact multiple", 100, 50, []int{50, 50}},
		{"remainder batch", 120, 50, []int{50, 50, 20}},
		{"batch size one", 3, 1, []int{1, 1, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			batches := CreateBatches(feedRecords(tc.records), tc.batchSize)
			require.Len(t, batches, len(tc.wantSizes))
			for i, want := range tc.wantSizes {
				require.Len(t, batches[i], want)
			}
		})
	}
}

func TestCreateBatchesPreservesOrder(t *testing.T) {
	records := feedRecords(7)
	batches := CreateBatches(records, 3)

	var flattened []domain.JobRecord
	for _, b := range batches {
		flattened = append(flattened, b...)
	}
	require.Len(t, flattened, 7)
	for i := range flattened {
		require.Equal(t, records[i].ExternalID, flattened[i].ExternalID)
	}
}

// rssFeed builds a minimal RSS 2.0 document with n items.
func rssFeed(n int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Jobs</title>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, `<item>
			<title>Role %d</title>
			<link>https://example.com/jobs/%d</link>
			<guid>feed-job-%d</guid>
			<description>Work on things</description>
			<author>Acme</author>
			<pubDate>Mon, 04 Aug 2025 10:30:00 +0000</pubDate>
		</item>`, i, i, i)
	}
	sb.WriteString(`</channel></rss>`)
	return sb.String()
}

func newImporterFixture(t *testing.T, sources []string) (*ImporterService, *repository.ImportRunRepository, *repository.QueueRepository) {
	db := newTestDB(t)
	runRepo := repository.NewImportRunRepository(db)
	queueRepo := repository.NewQueueRepository(db)

	client := feed.NewClient(&feed.ClientConfig{
		Timeout:   5 * time.Second,
		UserAgent: "JobImporter/1.0",
	})
	fetcher := NewFetcherService(client, sources, nil)
	importer := NewImporterService(fetcher, runRepo, queueRepo, ImporterConfig{
		BatchSize:  50,
		MaxRetries: 3,
	})
	return importer, runRepo, queueRepo
}

func TestRunImportCycleDispatchesBatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed(120))
	}))
	defer srv.Close()

	importer, runRepo, queueRepo := newImporterFixture(t, []string{srv.URL})
	ctx := context.Background()

	runs, err := importer.RunImportCycle(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	require.Equal(t, domain.RunStatusProcessing, run.Status)
	require.Equal(t, 120, run.TotalFetched)
	require.Equal(t, 3, run.TotalBatches)

	stats, err := queueRepo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Waiting)

	// Every queued message decodes and carries consistent run metadata
	totalRecords := 0
	for {
		msg, err := queueRepo.Claim(ctx)
		require.NoError(t, err)
		if msg == nil {
			break
		}
		var batch domain.BatchMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &batch))
		require.Equal(t, run.ID, batch.ImportRunID)
		require.Equal(t, 3, batch.TotalBatches)
		require.LessOrEqual(t, len(batch.Records), 50)
		totalRecords += len(batch.Records)
	}
	require.Equal(t, 120, totalRecords)

	stored, err := runRepo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusProcessing, stored.Status)
}

func TestRunImportCycleEmptyFeedFailsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(0))
	}))
	defer srv.Close()

	importer, runRepo, queueRepo := newImporterFixture(t, []string{srv.URL})
	ctx := context.Background()

	runs, err := importer.RunImportCycle(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, domain.RunStatusFailed, runs[0].Status)
	require.Equal(t, "No jobs fetched", runs[0].Error)

	// Nothing enqueued for an empty source
	stats, err := queueRepo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Total)

	stored, err := runRepo.GetByID(ctx, runs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EndTime)
}

func TestRunImportCycleSourceFailureIsIsolated(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(10))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer bad.Close()

	importer, _, queueRepo := newImporterFixture(t, []string{good.URL, bad.URL})
	ctx := context.Background()

	runs, err := importer.RunImportCycle(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2, "one ledger entry per source")

	bySource := map[string]domain.ImportRun{}
	for _, r := range runs {
		bySource[r.Source] = r
	}
	require.Equal(t, domain.RunStatusProcessing, bySource[good.URL].Status)
	require.Equal(t, domain.RunStatusFailed, bySource[bad.URL].Status)
	require.Contains(t, bySource[bad.URL].Error, "502")

	stats, err := queueRepo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Waiting, "only the healthy source dispatches")
}

func TestEndToEndImportCycleAndProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(120))
	}))
	defer srv.Close()

	db := newTestDB(t)
	jobRepo := repository.NewJobRepository(db)
	runRepo := repository.NewImportRunRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	completions := repository.NewCompletionRepository(db)

	client := feed.NewClient(&feed.ClientConfig{Timeout: 5 * time.Second, UserAgent: "JobImporter/1.0"})
	fetcher := NewFetcherService(client, []string{srv.URL}, nil)
	importer := NewImporterService(fetcher, runRepo, queueRepo, ImporterConfig{BatchSize: 50, MaxRetries: 3})
	processor := NewProcessorService(jobRepo, runRepo, completions)

	ctx := context.Background()
	runs, err := importer.RunImportCycle(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	// Drain the queue the way a worker would
	for {
		msg, err := queueRepo.Claim(ctx)
		require.NoError(t, err)
		if msg == nil {
			break
		}
		var batch domain.BatchMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &batch))
		require.NoError(t, processor.ProcessBatch(ctx, &batch))
		require.NoError(t, queueRepo.Complete(ctx, msg.ID))
	}

	run, err := runRepo.GetByID(ctx, runs[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.Equal(t, 120, run.NewJobs)
	require.Equal(t, 120, run.TotalImported)
	require.Zero(t, run.FailedJobs)

	count, err := jobRepo.CountBySource(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(120), count)
}
