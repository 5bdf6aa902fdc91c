// Package orchestrator drives analysis jobs through the phase pipeline. The
// driving logic is a reducer over the job input and the checkpoint log: it
// performs no side effect other than activity invocations and store writes,
// so re-running it after a crash reaches the same decisions.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"lease-analyzer/internal/activity"
	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/filestore"
	"lease-analyzer/internal/models"
	"lease-analyzer/internal/store"
	"lease-analyzer/internal/telemetry"
)

const terminatedReason = "Analysis was terminated before completion"

// Gateway invokes the activity behind a phase.
type Gateway interface {
	Invoke(ctx context.Context, phase models.Phase, req activity.Request) (json.RawMessage, error)
}

// Scheduler arranges for Resume to be called for a job, now or soon.
type Scheduler interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Locker guards the per-job critical section. Acquire fails with
// apperr.ErrBusy when another caller holds the job.
type Locker interface {
	Acquire(ctx context.Context, jobID string) (func(), error)
}

// Options are the capabilities the orchestrator is built from.
type Options struct {
	Store     store.Store
	Gateway   Gateway
	Scheduler Scheduler
	Locker    Locker
	// Files, when set, is checked on Start so unknown file ids are
	// rejected before a job exists.
	Files  filestore.FileStore
	Logger *slog.Logger
}

// Orchestrator drives analysis jobs through the phase pipeline.
type Orchestrator struct {
	store     store.Store
	gateway   Gateway
	scheduler Scheduler
	locker    Locker
	files     filestore.FileStore
	logger    *slog.Logger
	validate  *requestValidator
	now       func() time.Time
	newID     func() string
}

// New builds an Orchestrator. A nil Locker defaults to an in-process KeyedMutex.
func New(opts Options) *Orchestrator {
	locker := opts.Locker
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Orchestrator{
		store:     opts.Store,
		gateway:   opts.Gateway,
		scheduler: opts.Scheduler,
		locker:    locker,
		files:     opts.Files,
		logger:    opts.Logger,
		validate:  newRequestValidator(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Start validates the request, persists a new Running job and schedules it.
// Invalid input is rejected with apperr.ErrValidation and creates no job.
func (o *Orchestrator) Start(ctx context.Context, req models.AnalysisRequest) (models.Job, error) {
	if err := o.validate.check(req); err != nil {
		return models.Job{}, err
	}
	if o.files != nil {
		ok, err := o.files.Exists(ctx, req.FileID)
		if err != nil {
			if errors.Is(err, apperr.ErrValidation) {
				return models.Job{}, err
			}
			return models.Job{}, fmt.Errorf("check file %s: %w", req.FileID, err)
		}
		if !ok {
			return models.Job{}, fmt.Errorf("file %s: %w", req.FileID, apperr.ErrNotFound)
		}
	}

	now := o.now().UTC()
	job, err := o.store.UpsertJob(ctx, models.Job{
		ID:        o.newID(),
		Status:    models.StatusRunning,
		Phase:     models.PhaseInitializing,
		Progress:  0,
		Message:   models.PhaseInitializing.Description(),
		Input:     req,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.Job{}, apperr.Storage("create job", err)
	}
	telemetry.JobsStarted.Inc()
	o.logger.Info("job created", "job_id", job.ID, "file_id", req.FileID)

	// A job that could not be handed off stays Running; RunRecovery
	// dispatches it again once its snapshot goes stale.
	if err := o.scheduler.Dispatch(ctx, job.ID); err != nil {
		o.logger.Warn("dispatch failed; job left for recovery", "job_id", job.ID, "error", err)
	}
	return job, nil
}

// Resume advances a job as far as it can go. It is safe to call any number
// of times: completed phases are replayed from their checkpoints and a
// terminal job is returned unchanged. Storage faults and context
// cancellation are returned to the caller, who is expected to retry.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (models.Job, error) {
	release, err := o.locker.Acquire(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	defer release()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, apperr.Storage("load job", err)
	}
	if job.Status.Terminal() {
		return job, nil
	}
	cps, err := o.store.ListCheckpoints(ctx, jobID)
	if err != nil {
		return job, apperr.Storage("list checkpoints", err)
	}
	prior := make(map[models.Phase]json.RawMessage, len(cps))
	for _, cp := range cps {
		prior[cp.Phase] = cp.Output
	}

	r := &run{o: o, job: job, prior: prior, log: o.logger.With("job_id", jobID)}
	if err := r.advance(ctx); err != nil {
		return r.job, err
	}
	return r.job, nil
}

// Terminate requests cooperative cancellation. The job stops at its next
// phase boundary; checkpoints already written are kept.
func (o *Orchestrator) Terminate(ctx context.Context, jobID string) (models.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, apperr.Storage("load job", err)
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if err := o.store.RequestCancel(ctx, jobID); err != nil {
		return models.Job{}, apperr.Storage("request cancel", err)
	}
	o.logger.Info("termination requested", "job_id", jobID, "phase", job.Phase)
	if err := o.scheduler.Dispatch(ctx, jobID); err != nil {
		o.logger.Warn("dispatch after terminate failed", "job_id", jobID, "error", err)
	}
	return job, nil
}

// RecoverActive schedules every job still Running. Workers call it on start
// so jobs interrupted by a crash continue from their last checkpoint.
func (o *Orchestrator) RecoverActive(ctx context.Context, limit int) (int, error) {
	ids, err := o.store.ListActiveJobs(ctx, limit)
	if err != nil {
		return 0, apperr.Storage("list active jobs", err)
	}
	for i, id := range ids {
		if err := o.scheduler.Dispatch(ctx, id); err != nil {
			return i, fmt.Errorf("dispatch %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		o.logger.Info("recovered active jobs", "count", len(ids))
	}
	return len(ids), nil
}

// RecoverStale schedules Running jobs whose snapshot has not changed for at
// least staleAfter. A job being advanced writes its snapshot at every phase,
// so in practice only jobs whose hand-off was lost qualify.
func (o *Orchestrator) RecoverStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	ids, err := o.store.ListActiveJobs(ctx, limit)
	if err != nil {
		return 0, apperr.Storage("list active jobs", err)
	}
	cutoff := o.now().Add(-staleAfter)
	n := 0
	for _, id := range ids {
		job, err := o.store.GetJob(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, apperr.Storage("load job", err)
		}
		if job.Status.Terminal() || job.UpdatedAt.After(cutoff) {
			continue
		}
		if err := o.scheduler.Dispatch(ctx, id); err != nil {
			return n, fmt.Errorf("dispatch %s: %w", id, err)
		}
		n++
	}
	if n > 0 {
		o.logger.Info("recovered stale jobs", "count", n, "stale_after", staleAfter)
	}
	return n, nil
}

// RunRecovery calls RecoverStale every interval until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (o *Orchestrator) RunRecovery(ctx context.Context, interval, staleAfter time.Duration, limit int) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := o.RecoverStale(ctx, staleAfter, limit); err != nil && ctx.Err() == nil {
				o.logger.Warn("recovery sweep failed", "error", err)
			}
		}
	}
}

// run is the state of a single Resume call.
type run struct {
	o     *Orchestrator
	job   models.Job
	prior map[models.Phase]json.RawMessage
	log   *slog.Logger
}

func (r *run) advance(ctx context.Context) error {
	if raw, ok := r.prior[models.PhaseFallback]; ok {
		return r.finishFailed(ctx, raw)
	}

	for _, phase := range models.Pipeline {
		if _, done := r.prior[phase]; done {
			r.log.Debug("phase replayed", "phase", phase)
			telemetry.PhaseReplays.WithLabelValues(string(phase)).Inc()
			if err := r.completePhase(ctx, phase); err != nil {
				return err
			}
			continue
		}

		if cancelled, err := r.cancelRequested(ctx); err != nil || cancelled {
			if err != nil {
				return err
			}
			return r.terminate(ctx)
		}
		if err := r.enterPhase(ctx, phase); err != nil {
			return err
		}

		r.log.Info("invoking phase", "phase", phase)
		telemetry.PhaseInvocations.WithLabelValues(string(phase)).Inc()
		out, invokeErr := r.o.gateway.Invoke(ctx, phase, r.request(nil))
		if invokeErr != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		// Output produced while a termination was pending is discarded.
		cancelled, err := r.cancelRequested(ctx)
		if err != nil {
			return err
		}
		if cancelled {
			return r.terminate(ctx)
		}
		if invokeErr != nil {
			return r.fail(ctx, phase, invokeErr)
		}

		if err := r.o.store.WriteCheckpoint(ctx, r.job.ID, phase, out); err != nil {
			return apperr.Storage("write checkpoint", err)
		}
		r.prior[phase] = out
		if err := r.completePhase(ctx, phase); err != nil {
			return err
		}
	}
	return r.complete(ctx)
}

func (r *run) request(failure *activity.Failure) activity.Request {
	return activity.Request{
		JobID:     r.job.ID,
		Input:     r.job.Input,
		CreatedAt: r.job.CreatedAt,
		Prior:     maps.Clone(r.prior),
		Failure:   failure,
	}
}

func (r *run) cancelRequested(ctx context.Context) (bool, error) {
	cancelled, err := r.o.store.CancelRequested(ctx, r.job.ID)
	if err != nil {
		return false, apperr.Storage("read cancel flag", err)
	}
	return cancelled, nil
}

// enterPhase records that phase is running unless the snapshot already says so.
func (r *run) enterPhase(ctx context.Context, phase models.Phase) error {
	if r.job.Phase.Ordinal() >= phase.Ordinal() {
		return nil
	}
	r.job.Phase = phase
	r.job.Message = phase.Description()
	return r.save(ctx)
}

// completePhase moves the snapshot to the milestone of a finished phase. A
// replayed phase whose milestone is already reflected writes nothing.
func (r *run) completePhase(ctx context.Context, phase models.Phase) error {
	info, _ := phase.Info()
	if r.job.Phase.Ordinal() >= info.Next.Ordinal() && r.job.Progress >= info.Milestone {
		return nil
	}
	if r.job.Phase.Ordinal() < info.Next.Ordinal() {
		r.job.Phase = info.Next
	}
	r.job.Progress = max(r.job.Progress, info.Milestone)
	r.job.Message = info.Message
	return r.save(ctx)
}

func (r *run) complete(ctx context.Context) error {
	var result models.AnalysisResult
	if err := json.Unmarshal(r.prior[models.PhaseReporting], &result); err != nil {
		return r.fail(ctx, models.PhaseReporting, apperr.Permanent(fmt.Errorf("decode report: %w", err)))
	}
	result.AnalysisID = r.job.ID
	result.Normalize()

	r.job.Status = models.StatusCompleted
	r.job.Phase = models.PhaseDone
	r.job.Progress = 100
	r.job.Message = models.PhaseDone.Description()
	r.job.Result = &result
	if err := r.save(ctx); err != nil {
		return err
	}
	telemetry.JobsFinished.WithLabelValues(string(models.StatusCompleted)).Inc()
	r.log.Info("job completed", "is_lease", result.AnalysisResult.IsLease)
	return nil
}

// fail runs the fallback path. The fallback outcome is checkpointed before
// the job is marked Failed so a crash in between replays the same Result.
func (r *run) fail(ctx context.Context, phase models.Phase, cause error) error {
	reason := failureReason(cause)
	r.log.Warn("phase failed permanently; producing fallback result", "phase", phase, "error", cause)

	raw, err := r.o.gateway.Invoke(ctx, models.PhaseFallback, r.request(&activity.Failure{Phase: phase, Reason: reason}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Error("fallback activity failed; using placeholder result", "error", err)
		raw, err = json.Marshal(models.FallbackOutcome{
			Phase:  phase,
			Reason: reason,
			Result: models.PlaceholderResult(r.job.ID, r.job.Input, r.job.CreatedAt, r.o.now(), reason),
		})
		if err != nil {
			return fmt.Errorf("encode fallback outcome: %w", err)
		}
	}
	if err := r.o.store.WriteCheckpoint(ctx, r.job.ID, models.PhaseFallback, raw); err != nil {
		return apperr.Storage("write fallback checkpoint", err)
	}
	r.prior[models.PhaseFallback] = raw
	return r.finishFailed(ctx, raw)
}

func (r *run) finishFailed(ctx context.Context, raw json.RawMessage) error {
	var outcome models.FallbackOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		r.log.Error("undecodable fallback checkpoint", "error", err)
		outcome.Phase = r.job.Phase
		outcome.Reason = "fallback result could not be decoded"
		outcome.Result = models.PlaceholderResult(r.job.ID, r.job.Input, r.job.CreatedAt, r.o.now(), outcome.Reason)
	}
	result := outcome.Result
	result.AnalysisID = r.job.ID
	result.Normalize()

	r.job.Status = models.StatusFailed
	r.job.Message = fmt.Sprintf("Analysis failed during %s", outcome.Phase)
	r.job.Error = outcome.Reason
	r.job.Result = &result
	if err := r.save(ctx); err != nil {
		return err
	}
	telemetry.JobsFinished.WithLabelValues(string(models.StatusFailed)).Inc()
	r.log.Info("job failed", "phase", outcome.Phase, "reason", outcome.Reason)
	return nil
}

func (r *run) terminate(ctx context.Context) error {
	result := models.PlaceholderResult(r.job.ID, r.job.Input, r.job.CreatedAt, r.o.now(), terminatedReason)
	r.job.Status = models.StatusTerminated
	r.job.Message = terminatedReason
	r.job.Result = &result
	if err := r.save(ctx); err != nil {
		return err
	}
	telemetry.JobsFinished.WithLabelValues(string(models.StatusTerminated)).Inc()
	r.log.Info("job terminated", "phase", r.job.Phase)
	return nil
}

func (r *run) save(ctx context.Context) error {
	saved, err := r.o.store.UpsertJob(ctx, r.job)
	if err != nil {
		return apperr.Storage("save job", err)
	}
	r.job = saved
	return nil
}

// failureReason extracts the collaborator's message from a gateway error.
func failureReason(err error) string {
	var actErr *apperr.ActivityError
	if errors.As(err, &actErr) && actErr.Err != nil {
		return actErr.Err.Error()
	}
	return err.Error()
}
