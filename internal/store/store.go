// Package store holds the two shared mutable resources of the pipeline: the
// write-once checkpoint log (source of truth for replay) and the job state
// snapshot store (fast polling projection). Postgres, Badger and in-memory
// backends implement both.
package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
)

// CheckpointLog is a durable write-once record of phase outputs keyed by (job, phase).
type CheckpointLog interface {
	// WriteCheckpoint succeeds idempotently when identical output already
	// exists and fails with apperr.ErrConflict when it differs. The write is
	// durable when it returns.
	WriteCheckpoint(ctx context.Context, jobID string, phase models.Phase, output []byte) error
	// ReadCheckpoint returns apperr.ErrNotFound when the phase has not completed.
	ReadCheckpoint(ctx context.Context, jobID string, phase models.Phase) ([]byte, error)
	// ListCheckpoints returns every checkpoint of a job in pipeline order.
	ListCheckpoints(ctx context.Context, jobID string) ([]models.Checkpoint, error)
}

// JobStore keeps the latest snapshot of every job.
type JobStore interface {
	// UpsertJob writes the snapshot and returns it with the stored UpdatedAt,
	// which strictly increases per job. Overwriting a terminal job fails
	// with apperr.ErrConflict.
	UpsertJob(ctx context.Context, job models.Job) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	// ListActiveJobs returns ids of jobs still Running, oldest first.
	ListActiveJobs(ctx context.Context, limit int) ([]string, error)
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// Store is a backend providing both resources.
type Store interface {
	CheckpointLog
	JobStore
	Close() error
}

// nextUpdatedAt keeps UpdatedAt strictly increasing even when the clock
// stalls or steps backwards.
func nextUpdatedAt(now, prev time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !prev.IsZero() && !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func compareCheckpoint(jobID string, phase models.Phase, existing, output []byte) error {
	if bytes.Equal(existing, output) {
		return nil
	}
	return fmt.Errorf("job %s phase %s: %w", jobID, phase, apperr.ErrConflict)
}

func terminalConflict(job models.Job) error {
	return fmt.Errorf("job %s already %s: %w", job.ID, job.Status, apperr.ErrConflict)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
}

// phaseRank orders checkpoints: pipeline phases first, fallback last.
func phaseRank(p models.Phase) int {
	if p == models.PhaseFallback {
		return 100
	}
	return p.Ordinal()
}

func sortCheckpoints(cps []models.Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool {
		return phaseRank(cps[i].Phase) < phaseRank(cps[j].Phase)
	})
}
