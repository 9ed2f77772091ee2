package service

import (
	"context"
	"sync"

	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/feed"
	"github.com/timmy/jobflow/internal/logger"
)

// FeedArchiver stores raw feed documents for later inspection. Archiving is
// best-effort and never fails a fetch.
type FeedArchiver interface {
	Archive(ctx context.Context, source string, data []byte) error
}

// FetchResult is the outcome of fetching one source. A failed source yields
// Success=false with the cause in Error; the fetch of other sources is
// unaffected.
type FetchResult struct {
	Success  bool
	Source   string
	JobCount int
	Records  []domain.JobRecord
	Error    string
}

// FetcherService fetches and normalizes postings from all configured sources.
type FetcherService struct {
	client  *feed.Client
	sources []string
	archive FeedArchiver // optional
}

// NewFetcherService creates a new FetcherService.
// Parameters:
//   - client: HTTP feed client.
//   - sources: feed URLs to pull from.
//   - archive: optional raw-document archiver; nil disables archiving.
// Returns:
//   - *FetcherService: service instance.
func NewFetcherService(client *feed.Client, sources []string, archive FeedArchiver) *FetcherService {
	return &FetcherService{
		client:  client,
		sources: sources,
		archive: archive,
	}
}

// Sources returns the configured feed URLs.
func (s *FetcherService) Sources() []string {
	return s.sources
}

// FetchAll fetches every configured source concurrently. One result is
// returned per source, in configuration order; individual failures are
// captured in the result rather than aborting the sweep.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []FetchResult: one entry per configured source.
func (s *FetcherService) FetchAll(ctx context.Context) []FetchResult {
	results := make([]FetchResult, len(s.sources))

	var wg sync.WaitGroup
	for i, source := range s.sources {
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			results[i] = s.FetchOne(ctx, source)
		}(i, source)
	}
	wg.Wait()

	return results
}

// FetchOne fetches and normalizes a single source. Records failing validation
// are skipped with a warning; they never enter the import pipeline.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - source: feed URL.
// Returns:
//   - FetchResult: outcome with normalized records on success.
func (s *FetcherService) FetchOne(ctx context.Context, source string) FetchResult {
	ctx = logger.SetSource(ctx, source)
	logger.CtxInfo(ctx, "Fetching jobs from %s", source)

	data, err := s.client.Fetch(ctx, source)
	if err != nil {
		logger.CtxError(ctx, "Failed to fetch feed: %v", err)
		return FetchResult{Source: source, Error: err.Error()}
	}

	if s.archive != nil {
		if err := s.archive.Archive(ctx, source, data); err != nil {
			logger.CtxWarn(ctx, "Failed to archive feed snapshot: %v", err)
		}
	}

	items, err := feed.Parse(data)
	if err != nil {
		logger.CtxError(ctx, "Failed to parse feed: %v", err)
		return FetchResult{Source: source, Error: err.Error()}
	}

	records := make([]domain.JobRecord, 0, len(items))
	for _, item := range items {
		record := feed.Normalize(item, source)
		if err := feed.Validate(record); err != nil {
			logger.CtxWarn(ctx, "Skipping invalid record: %v", err)
			continue
		}
		records = append(records, *record)
	}

	logger.With(logger.Fields{logger.FieldCount: len(records)}).
		Info(ctx, "Fetched %d jobs from %s", len(records), source)

	return FetchResult{
		Success:  true,
		Source:   source,
		JobCount: len(records),
		Records:  records,
	}
}
