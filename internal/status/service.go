// Package status serves read-only projections of job snapshots to pollers.
package status

import (
	"context"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
)

// JobReader is the read side of the job state store.
type JobReader interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
}

type Service struct {
	jobs JobReader
}

func NewService(jobs JobReader) *Service {
	return &Service{jobs: jobs}
}

// GetStatus returns the latest snapshot or apperr.ErrNotFound.
func (s *Service) GetStatus(ctx context.Context, id string) (models.Job, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, apperr.Storage("get job", err)
	}
	return job, nil
}

// GetResult returns the Result of a terminal job. Jobs still running yield
// an *apperr.NotReadyError carrying their status.
func (s *Service) GetResult(ctx context.Context, id string) (models.AnalysisResult, error) {
	job, err := s.GetStatus(ctx, id)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if !job.Status.Terminal() || job.Result == nil {
		return models.AnalysisResult{}, &apperr.NotReadyError{Status: string(job.Status)}
	}
	return *job.Result, nil
}
