package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
	"lease-analyzer/internal/retry"
	"lease-analyzer/internal/telemetry"
)

// ResumeFunc advances one job; Orchestrator.Resume satisfies it.
type ResumeFunc func(ctx context.Context, jobID string) (models.Job, error)

// PoolConfig sizes the in-process dispatcher.
type PoolConfig struct {
	Workers   int
	QueueSize int
	// MaxDeliveries bounds Resume attempts that end in a process-level fault.
	MaxDeliveries  int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BusyDelay is how long to wait before retrying a job locked elsewhere.
	BusyDelay time.Duration
}

// Pool is a Scheduler for single-process deployments: a bounded queue of
// job ids drained by a fixed set of goroutines. Dispatch blocks while the
// queue is full so excess jobs wait instead of fanning out.
type Pool struct {
	cfg    PoolConfig
	queue  chan string
	logger *slog.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewPool returns a Pool; zero config fields get defaults.
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.BusyDelay <= 0 {
		cfg.BusyDelay = time.Second
	}
	return &Pool{
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
		logger:   logger,
		failures: make(map[string]int),
	}
}

func (p *Pool) Dispatch(ctx context.Context, jobID string) error {
	select {
	case p.queue <- jobID:
		telemetry.QueueDepthGauge.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Pool) Run(ctx context.Context, resume ResumeFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-p.queue:
					telemetry.QueueDepthGauge.Set(float64(len(p.queue)))
					p.handle(ctx, resume, id)
				}
			}
		})
	}
	return g.Wait()
}

func (p *Pool) handle(ctx context.Context, resume ResumeFunc, jobID string) {
	log := p.logger.With("job_id", jobID)
	telemetry.InFlightGauge.Inc()
	job, err := resume(ctx, jobID)
	telemetry.InFlightGauge.Dec()

	switch {
	case err == nil:
		p.reset(jobID)
		log.Debug("resume finished", "status", job.Status, "progress", job.Progress)
	case ctx.Err() != nil:
		// Shutting down; the recovery sweep picks the job up on restart.
	case errors.Is(err, apperr.ErrNotFound):
		p.reset(jobID)
		log.Warn("dropping unknown job")
	case errors.Is(err, apperr.ErrBusy):
		p.redeliver(ctx, jobID, p.cfg.BusyDelay)
	default:
		n := p.fail(jobID)
		if n >= p.cfg.MaxDeliveries {
			p.reset(jobID)
			telemetry.DispatchDeadLetter.Inc()
			// The job stays Running; RunRecovery hands it out again once stale.
			log.Error("giving up on job after repeated faults", "deliveries", n, "error", err)
			return
		}
		wait := retry.Backoff(p.cfg.BackoffInitial, p.cfg.BackoffMax, n)
		telemetry.DispatchRetries.Inc()
		log.Warn("resume failed; retrying", "deliveries", n, "backoff", wait, "error", err)
		p.redeliver(ctx, jobID, wait)
	}
}

func (p *Pool) redeliver(ctx context.Context, jobID string, after time.Duration) {
	go func() {
		if retry.Sleep(ctx, after) != nil {
			return
		}
		_ = p.Dispatch(ctx, jobID)
	}()
}

func (p *Pool) fail(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[jobID]++
	return p.failures[jobID]
}

func (p *Pool) reset(jobID string) {
	p.mu.Lock()
	delete(p.failures, jobID)
	p.mu.Unlock()
}
