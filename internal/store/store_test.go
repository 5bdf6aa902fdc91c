package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends(t *testing.T) []backend {
	t.Helper()
	out := []backend{
		{name: "memory", open: func(t *testing.T) Store { return NewMemory() }},
		{name: "badger", open: func(t *testing.T) Store {
			db, err := OpenBadger(BadgerConfig{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return db
		}},
	}
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		out = append(out, backend{name: "postgres", open: func(t *testing.T) Store {
			ctx := context.Background()
			pg, err := NewPostgres(ctx, dsn)
			require.NoError(t, err)
			require.NoError(t, pg.RunMigrations(ctx))
			_, err = pg.pool.Exec(ctx, "TRUNCATE jobs CASCADE")
			require.NoError(t, err)
			t.Cleanup(func() { _ = pg.Close() })
			return pg
		}})
	}
	return out
}

func newJob() models.Job {
	return models.Job{
		ID:       uuid.NewString(),
		Status:   models.StatusRunning,
		Phase:    models.PhaseInitializing,
		Progress: 0,
		Message:  models.PhaseInitializing.Description(),
		Input: models.AnalysisRequest{
			FileID:      "f1",
			FileName:    "lease.txt",
			FileSize:    120,
			ContentType: "text/plain",
		},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestCheckpointWriteOnce(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			job, err := s.UpsertJob(ctx, newJob())
			require.NoError(t, err)

			_, err = s.ReadCheckpoint(ctx, job.ID, models.PhaseParsing)
			require.ErrorIs(t, err, apperr.ErrNotFound)

			out := []byte(`{"content":"hello"}`)
			require.NoError(t, s.WriteCheckpoint(ctx, job.ID, models.PhaseParsing, out))
			require.NoError(t, s.WriteCheckpoint(ctx, job.ID, models.PhaseParsing, out), "identical rewrite is idempotent")

			err = s.WriteCheckpoint(ctx, job.ID, models.PhaseParsing, []byte(`{"content":"other"}`))
			require.ErrorIs(t, err, apperr.ErrConflict)

			got, err := s.ReadCheckpoint(ctx, job.ID, models.PhaseParsing)
			require.NoError(t, err)
			assert.JSONEq(t, string(out), string(got))

			cps, err := s.ListCheckpoints(ctx, job.ID)
			require.NoError(t, err)
			require.Len(t, cps, 1, "no duplicate checkpoint")
		})
	}
}

func TestListCheckpointsPipelineOrder(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			job, err := s.UpsertJob(ctx, newJob())
			require.NoError(t, err)

			for _, p := range []models.Phase{models.PhaseFallback, models.PhaseStructuring, models.PhaseParsing} {
				require.NoError(t, s.WriteCheckpoint(ctx, job.ID, p, []byte(`{}`)))
			}
			cps, err := s.ListCheckpoints(ctx, job.ID)
			require.NoError(t, err)
			var phases []models.Phase
			for _, cp := range cps {
				phases = append(phases, cp.Phase)
				assert.Equal(t, job.ID, cp.JobID)
			}
			assert.Equal(t, []models.Phase{models.PhaseParsing, models.PhaseStructuring, models.PhaseFallback}, phases)

			other, err := s.ListCheckpoints(ctx, uuid.NewString())
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestUpsertJobUpdatedAtStrictlyIncreases(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			if m, ok := s.(*Memory); ok {
				frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
				m.now = func() time.Time { return frozen }
			}
			job := newJob()
			var prev time.Time
			for i := 0; i < 5; i++ {
				job.Progress = i * 10
				stored, err := s.UpsertJob(ctx, job)
				require.NoError(t, err)
				require.True(t, stored.UpdatedAt.After(prev), "write %d: %s not after %s", i, stored.UpdatedAt, prev)
				prev = stored.UpdatedAt

				got, err := s.GetJob(ctx, job.ID)
				require.NoError(t, err)
				assert.True(t, got.UpdatedAt.Equal(stored.UpdatedAt))
				assert.Equal(t, job.Progress, got.Progress)
			}
		})
	}
}

func TestTerminalJobIsImmutable(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			job := newJob()
			job.Status = models.StatusCompleted
			job.Phase = models.PhaseDone
			job.Progress = 100
			job.Result = &models.AnalysisResult{AnalysisID: job.ID}
			job.Result.Normalize()
			_, err := s.UpsertJob(ctx, job)
			require.NoError(t, err)

			job.Status = models.StatusRunning
			job.Progress = 15
			_, err = s.UpsertJob(ctx, job)
			require.ErrorIs(t, err, apperr.ErrConflict)

			got, err := s.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, got.Status)
			assert.Equal(t, 100, got.Progress)
			require.NotNil(t, got.Result)
			assert.Equal(t, job.ID, got.Result.AnalysisID)
			assert.NotNil(t, got.Result.AnalysisResult.RiskFactors)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			_, err := b.open(t).GetJob(context.Background(), uuid.NewString())
			require.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestListActiveJobs(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			base := time.Now().UTC().Truncate(time.Microsecond)

			var running []string
			for i := 0; i < 3; i++ {
				job := newJob()
				job.CreatedAt = base.Add(time.Duration(i) * time.Second)
				_, err := s.UpsertJob(ctx, job)
				require.NoError(t, err)
				running = append(running, job.ID)
			}
			done := newJob()
			_, err := s.UpsertJob(ctx, done)
			require.NoError(t, err)
			done.Status = models.StatusFailed
			_, err = s.UpsertJob(ctx, done)
			require.NoError(t, err)

			ids, err := s.ListActiveJobs(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, running, ids)

			ids, err = s.ListActiveJobs(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, running[:2], ids)
		})
	}
}

func TestCancelRequest(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)
			job, err := s.UpsertJob(ctx, newJob())
			require.NoError(t, err)

			requested, err := s.CancelRequested(ctx, job.ID)
			require.NoError(t, err)
			assert.False(t, requested)

			require.NoError(t, s.RequestCancel(ctx, job.ID))
			require.NoError(t, s.RequestCancel(ctx, job.ID))
			requested, err = s.CancelRequested(ctx, job.ID)
			require.NoError(t, err)
			assert.True(t, requested)

			require.ErrorIs(t, s.RequestCancel(ctx, uuid.NewString()), apperr.ErrNotFound)
		})
	}
}

func TestMemoryConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	job, err := s.UpsertJob(ctx, newJob())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				got, err := s.GetJob(ctx, job.ID)
				if err != nil {
					t.Error(err)
					return
				}
				if got.Progress < 0 || got.Progress > 100 {
					t.Errorf("unexpected progress %d", got.Progress)
					return
				}
			}
		}()
	}
	for p := 1; p <= 100; p++ {
		job.Progress = p
		_, err := s.UpsertJob(ctx, job)
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestNextUpdatedAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base, nextUpdatedAt(base, time.Time{}))
	assert.Equal(t, base.Add(time.Microsecond), nextUpdatedAt(base, base))
	assert.Equal(t, base.Add(time.Microsecond), nextUpdatedAt(base.Add(-time.Hour), base), "clock stepping back")
	assert.Equal(t, base.Add(time.Second), nextUpdatedAt(base.Add(time.Second), base))
}
