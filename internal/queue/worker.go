package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/timmy/jobflow/internal/domain"
	"github.com/timmy/jobflow/internal/logger"
	"github.com/timmy/jobflow/internal/repository"
)

// Handler processes one claimed batch message. A non-nil error schedules
// redelivery; handlers must therefore be idempotent.
type Handler func(ctx context.Context, msg *domain.BatchMessage) error

// Config holds worker pool settings.
type Config struct {
	// Concurrency is the number of polling workers.
	Concurrency int
	// PollInterval is how long an idle worker sleeps between claims.
	PollInterval time.Duration
	// RetryDelay is the base delay of the exponential redelivery backoff.
	RetryDelay time.Duration
}

// WorkerPool drains the durable queue with a fixed number of workers. Each
// worker claims, decodes, and hands messages to the handler; claim conflicts
// between workers are resolved inside the repository.
type WorkerPool struct {
	repo    *repository.QueueRepository
	handler Handler
	cfg     Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a worker pool over the given queue repository.
// Parameters:
//   - repo: durable queue storage.
//   - handler: batch message processor.
//   - cfg: pool settings; zero values fall back to defaults.
// Returns:
//   - *WorkerPool: pool ready to be started.
func NewWorkerPool(repo *repository.QueueRepository, handler Handler, cfg Config) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &WorkerPool{
		repo:    repo,
		handler: handler,
		cfg:     cfg,
	}
}

// Start launches the workers. They run until Stop is called or the parent
// context is cancelled.
// Parameters:
//   - ctx: parent context; cancellation stops all workers.
// Returns: none.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	logger.With(logger.Fields{logger.FieldCount: p.cfg.Concurrency}).
		Info(ctx, "Starting queue workers")

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals all workers and waits for in-flight messages to finish. A
// message already claimed is processed to completion before its worker exits.
// Parameters: none.
// Returns: none.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	workerCtx := logger.WithField(ctx, "worker", id)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(workerCtx)
		}
	}
}

// poll claims and processes at most one message. Processing continues with a
// background-derived context so that shutdown does not abort a half-applied
// batch; at-least-once semantics are preserved either way, this just avoids
// pointless redeliveries.
func (p *WorkerPool) poll(ctx context.Context) {
	paused, err := p.repo.IsPaused(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to read queue pause flag: %v", err)
		return
	}
	if paused {
		return
	}

	msg, err := p.repo.Claim(ctx)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to claim queue message: %v", err)
		return
	}
	if msg == nil {
		return
	}

	procCtx := logger.FromContext(ctx).WithContext(context.Background())
	p.process(procCtx, msg)
}

func (p *WorkerPool) process(ctx context.Context, msg *domain.QueueMessage) {
	var batch domain.BatchMessage
	if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
		// Undecodable payloads can never succeed; park immediately.
		logger.CtxError(ctx, "Dropping malformed queue message %d: %v", msg.ID, err)
		msg.Attempts = msg.MaxAttempts
		if _, ferr := p.repo.Fail(ctx, msg, "malformed payload: "+err.Error(), p.cfg.RetryDelay); ferr != nil {
			logger.CtxError(ctx, "Failed to park message %d: %v", msg.ID, ferr)
		}
		return
	}

	ctx = logger.SetRunID(ctx, batch.ImportRunID)
	start := time.Now()

	if err := p.handler(ctx, &batch); err != nil {
		retrying, ferr := p.repo.Fail(ctx, msg, err.Error(), p.cfg.RetryDelay)
		if ferr != nil {
			logger.CtxError(ctx, "Failed to record message failure %d: %v", msg.ID, ferr)
			return
		}
		if retrying {
			logger.With(logger.Fields{logger.FieldBatch: batch.BatchNumber}).
				Warn(ctx, "Batch failed on attempt %d/%d, scheduling redelivery: %v",
					msg.Attempts, msg.MaxAttempts, err)
		} else {
			logger.With(logger.Fields{logger.FieldBatch: batch.BatchNumber}).
				Error(ctx, "Batch failed permanently after %d attempts: %v", msg.Attempts, err)
		}
		return
	}

	if err := p.repo.Complete(ctx, msg.ID); err != nil {
		// The work is done; the message will be redelivered and the idempotent
		// handler will no-op it.
		logger.CtxWarn(ctx, "Failed to mark message %d completed: %v", msg.ID, err)
		return
	}

	logger.With(logger.Fields{
		logger.FieldBatch:      batch.BatchNumber,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Debug(ctx, "Batch message processed")
}
