// Package activity is the single call boundary between the orchestrator and
// the external collaborators. It applies timeouts, retries and a concurrency
// bound, and never touches job or checkpoint state.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
	"lease-analyzer/internal/retry"
	"lease-analyzer/internal/telemetry"
)

// Request is what every activity receives: the job input plus the outputs
// of the phases that already completed.
type Request struct {
	JobID     string
	Input     models.AnalysisRequest
	CreatedAt time.Time
	Prior     map[models.Phase]json.RawMessage
	// Failure is set only for the fallback activity.
	Failure *Failure
}

// Failure names the phase that failed and why.
type Failure struct {
	Phase  models.Phase
	Reason string
}

// Func performs one attempt of a phase. The returned value is encoded as
// the phase output.
type Func func(ctx context.Context, req Request) (any, error)

// Policy bounds retries, timeouts and concurrency.
type Policy struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	DefaultTimeout time.Duration
	PhaseTimeouts  map[models.Phase]time.Duration
	// Concurrency caps simultaneous attempts across all jobs.
	Concurrency int64
}

func (p Policy) timeout(phase models.Phase) time.Duration {
	if d, ok := p.PhaseTimeouts[phase]; ok && d > 0 {
		return d
	}
	return p.DefaultTimeout
}

// Gateway routes phase invocations to registered activities.
type Gateway struct {
	policy     Policy
	activities map[models.Phase]Func
	sem        *semaphore.Weighted
	tracer     trace.Tracer
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewGateway(policy Policy, logger *slog.Logger) *Gateway {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.DefaultTimeout <= 0 {
		policy.DefaultTimeout = 2 * time.Minute
	}
	if policy.Concurrency <= 0 {
		policy.Concurrency = 8
	}
	return &Gateway{
		policy:     policy,
		activities: make(map[models.Phase]Func),
		sem:        semaphore.NewWeighted(policy.Concurrency),
		tracer:     otel.Tracer("lease-analyzer/activity"),
		logger:     logger,
		sleep:      retry.Sleep,
	}
}

// Register binds an activity to a phase. Registration happens before use.
func (g *Gateway) Register(phase models.Phase, fn Func) {
	g.activities[phase] = fn
}

// Invoke runs the activity for phase under the retry policy. Errors other
// than parent context cancellation are *apperr.ActivityError values; once
// returned they are always permanent.
func (g *Gateway) Invoke(ctx context.Context, phase models.Phase, req Request) (json.RawMessage, error) {
	fn, ok := g.activities[phase]
	if !ok {
		return nil, &apperr.ActivityError{Phase: string(phase), Permanent: true,
			Err: apperr.Permanent(fmt.Errorf("no activity registered for %s", phase))}
	}

	ctx, span := g.tracer.Start(ctx, "activity."+string(phase), trace.WithAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("phase", string(phase)),
	))
	defer span.End()

	log := g.logger.With("job_id", req.JobID, "phase", phase)
	var lastErr error
	attempts := 0
	for attempts < g.policy.MaxAttempts {
		attempts++
		out, err := g.attempt(ctx, phase, fn, req)
		if err == nil {
			telemetry.ActivityAttempts.WithLabelValues(string(phase), "success").Inc()
			span.SetAttributes(attribute.Int("attempts", attempts))
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			telemetry.ActivityAttempts.WithLabelValues(string(phase), "cancelled").Inc()
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctxErr
		}
		lastErr = err
		if !apperr.IsTransient(err) {
			telemetry.ActivityAttempts.WithLabelValues(string(phase), "permanent").Inc()
			break
		}
		telemetry.ActivityAttempts.WithLabelValues(string(phase), "transient").Inc()
		if attempts == g.policy.MaxAttempts {
			break
		}
		wait := retry.Backoff(g.policy.BackoffInitial, g.policy.BackoffMax, attempts)
		log.Warn("activity attempt failed, retrying", "attempt", attempts, "backoff", wait, "error", err)
		if err := g.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	span.SetAttributes(attribute.Int("attempts", attempts))
	log.Error("activity failed", "attempts", attempts, "error", lastErr)
	return nil, &apperr.ActivityError{Phase: string(phase), Attempts: attempts, Permanent: true, Err: lastErr}
}

// attempt holds one pool slot for the duration of a single try so that a
// job waiting out its backoff does not starve others.
func (g *Gateway) attempt(ctx context.Context, phase models.Phase, fn Func, req Request) (json.RawMessage, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	timeout := g.policy.timeout(phase)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := fn(attemptCtx, req)
	telemetry.ActivityDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())

	if err == nil && attemptCtx.Err() == nil {
		raw, mErr := json.Marshal(out)
		if mErr != nil {
			return nil, apperr.Permanent(fmt.Errorf("encode %s output: %w", phase, mErr))
		}
		return raw, nil
	}
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, apperr.Transient(fmt.Errorf("%s timed out after %s: %w", phase, timeout, context.DeadlineExceeded))
	}
	if err == nil {
		err = attemptCtx.Err()
	}
	return nil, err
}
