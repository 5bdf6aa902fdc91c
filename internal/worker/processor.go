// Package worker advances analysis jobs handed out by the Redis dispatch queue.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/config"
	"lease-analyzer/internal/orchestrator"
	"lease-analyzer/internal/queue"
	"lease-analyzer/internal/retry"
	"lease-analyzer/internal/telemetry"
)

// Processor drives the worker execution loop.
type Processor struct {
	cfg    config.Config
	queue  *queue.RedisQueue
	resume orchestrator.ResumeFunc
	logger *slog.Logger
	// busyDelay is how long a job held by another worker waits before it is
	// handed out again.
	busyDelay time.Duration
	now       func() time.Time
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, resume orchestrator.ResumeFunc, logger *slog.Logger) *Processor {
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.WorkerPollInterval <= 0 {
		cfg.WorkerPollInterval = time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.ScheduledBatchSize <= 0 {
		cfg.ScheduledBatchSize = 100
	}
	return &Processor{
		cfg:       cfg,
		queue:     q,
		resume:    resume,
		logger:    logger,
		busyDelay: time.Second,
		now:       time.Now,
	}
}

// Run starts the main worker loop until context cancellation. In-flight
// resumes are waited for before it returns.
func (p *Processor) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(p.cfg.WorkerConcurrency))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.housekeep(ctx)

		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		d, err := p.queue.DequeueWithLease(ctx)
		if err != nil || d == nil {
			sem.Release(1)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("dequeue failed", "error", err)
			}
			if err := retry.Sleep(ctx, p.cfg.WorkerPollInterval); err != nil {
				return err
			}
			continue
		}

		wg.Add(1)
		go func(d queue.Delivery) {
			defer wg.Done()
			defer sem.Release(1)
			p.handle(ctx, d)
		}(*d)
	}
}

// housekeep promotes due retries and reclaims expired leases.
func (p *Processor) housekeep(ctx context.Context) {
	if _, err := p.queue.PromoteScheduled(ctx, int64(p.cfg.ScheduledBatchSize)); err != nil && ctx.Err() == nil {
		p.logger.Warn("promote scheduled failed", "error", err)
	}
	reclaimed, err := p.queue.RequeueExpired(ctx, 100)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("requeue expired failed", "error", err)
	}
	if len(reclaimed) > 0 {
		p.logger.Info("reclaimed expired leases", "jobs", reclaimed)
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
}

func (p *Processor) handle(ctx context.Context, d queue.Delivery) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	runCtx, stop := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		p.heartbeat(runCtx, d.JobID)
	}()
	job, err := p.resume(runCtx, d.JobID)
	stop()
	hb.Wait()

	log := p.logger.With("job_id", d.JobID, "delivery", d.Deliveries)
	shutdown := ctx.Err() != nil
	// Settle the delivery even if shutdown began after resume returned.
	ctx = context.WithoutCancel(ctx)
	switch {
	case err == nil:
		log.Debug("job advanced", "status", job.Status)
		p.ack(ctx, d.JobID)
	case errors.Is(err, apperr.ErrNotFound):
		log.Warn("dropping unknown job")
		p.ack(ctx, d.JobID)
	case shutdown:
		// Shutdown. The lease expires and another worker picks the job up.
	case errors.Is(err, apperr.ErrBusy):
		if err := p.queue.Postpone(ctx, d.JobID, p.now().Add(p.busyDelay)); err != nil {
			log.Error("postpone failed", "error", err)
		}
	case d.Deliveries >= p.cfg.MaxDeliveries:
		telemetry.DispatchDeadLetter.Inc()
		log.Error("giving up on job", "error", err)
		if err := p.queue.DeadLetter(ctx, d.JobID); err != nil {
			log.Error("dead letter failed", "error", err)
		}
	default:
		telemetry.DispatchRetries.Inc()
		wait := retry.Backoff(p.cfg.BackoffInitial, p.cfg.BackoffMax, d.Deliveries)
		log.Warn("resume failed, retrying", "error", err, "backoff", wait)
		if err := p.queue.Retry(ctx, d.JobID, p.now().Add(wait)); err != nil {
			log.Error("retry schedule failed", "error", err)
		}
	}
}

// heartbeat keeps the lease alive while the job is being advanced.
func (p *Processor) heartbeat(ctx context.Context, jobID string) {
	visibility := p.queue.VisibilityTimeout()
	ticker := time.NewTicker(visibility / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, jobID, visibility); err != nil && ctx.Err() == nil {
				p.logger.Warn("extend lease failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (p *Processor) ack(ctx context.Context, jobID string) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		p.logger.Error("ack failed", "job_id", jobID, "error", err)
	}
}
