// Package jobqueue implements the job queue processor (C6): a claim-dispatch
// loop over persist.Store's SKIP LOCKED claim protocol, grounded on
// scheduler.Scheduler's polling-loop shape.
package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"governanceagg/observability"
	"governanceagg/persist"
	"governanceagg/store"
)

// Handler processes one claimed job's payload. A non-nil error marks the job
// failed rather than processed.
type Handler func(ctx context.Context, job *store.JobQueue) error

// Processor claims and dispatches jobs of one type to a Handler.
type Processor struct {
	store    *persist.Store
	jobType  string
	handler  Handler
	log      *slog.Logger
	pollTick time.Duration
}

// New builds a Processor for the given job type.
func New(store *persist.Store, jobType string, handler Handler, log *slog.Logger, pollTick time.Duration) *Processor {
	return &Processor{store: store, jobType: jobType, handler: handler, log: log, pollTick: pollTick}
}

// Run polls for claimable jobs until ctx is canceled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain claims and processes batches of jobs until the queue reports none
// left.
func (p *Processor) drain(ctx context.Context) {
	for {
		jobs, err := p.store.ClaimBatch(ctx, p.jobType, persist.DefaultClaimBatch)
		if errors.Is(err, persist.ErrNoJobAvailable) {
			return
		}
		if err != nil {
			p.log.Error("claim jobs failed", "job_type", p.jobType, "error", err)
			return
		}

		for i := range jobs {
			job := &jobs[i]
			observability.JobQueue().RecordClaim(p.jobType)
			handleErr := p.handler(ctx, job)
			observability.JobQueue().RecordOutcome(p.jobType, handleErr)
			if handleErr != nil {
				p.log.Error("job handler failed", "job_id", job.ID.String(), "error", handleErr)
				if markErr := p.store.MarkFailed(ctx, job.ID); markErr != nil {
					p.log.Error("mark job failed", "job_id", job.ID.String(), "error", markErr)
				}
			}
		}

		if depth, err := p.store.PendingDepth(ctx, p.jobType); err == nil {
			observability.JobQueue().SetDepth(int(depth))
		}
	}
}
