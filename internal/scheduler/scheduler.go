package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/timmy/jobflow/internal/logger"
)

// Scheduler triggers the import cycle on a cron schedule. Overlap is allowed:
// runs of one sweep are independent ledger entries, and the queue serializes
// actual record work across workers.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	runFirst bool
	job      func(ctx context.Context)
}

// New creates a scheduler for the given cron expression.
// Parameters:
//   - spec: standard 5-field cron expression.
//   - runOnStart: when true, the job also fires once immediately on Start.
//   - job: import cycle trigger.
// Returns:
//   - *Scheduler: scheduler ready to start.
func New(spec string, runOnStart bool, job func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		spec:     spec,
		runFirst: runOnStart,
		job:      job,
	}
}

// Start registers the job and begins the schedule.
// Parameters:
//   - ctx: context passed to every triggered job.
// Returns:
//   - error: non-nil when the cron expression does not parse.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.job(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logger.CtxInfo(ctx, "Scheduler started with cron %q", s.spec)

	if s.runFirst {
		go s.job(ctx)
	}
	return nil
}

// Stop halts the schedule and waits for a running job trigger to return.
// Parameters: none.
// Returns: none.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
