package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lease-analyzer/internal/activity"
	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/logging"
	"lease-analyzer/internal/models"
	"lease-analyzer/internal/queue"
)

func runPool(t *testing.T, p *Pool, resume ResumeFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx, resume)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPoolDrivesJobsToCompletion(t *testing.T) {
	h := newHarness(t)
	pool := NewPool(PoolConfig{Workers: 2}, logging.Discard())
	h.orch.scheduler = pool
	runPool(t, pool, h.orch.Resume)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, h.start().ID)
	}
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if h.get(id).Status != models.StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPoolRedeliversBusyJobs(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1, BusyDelay: time.Millisecond}, logging.Discard())
	var calls int32
	runPool(t, pool, func(context.Context, string) (models.Job, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return models.Job{}, apperr.ErrBusy
		}
		return models.Job{Status: models.StatusCompleted}, nil
	})
	require.NoError(t, pool.Dispatch(context.Background(), "job-1"))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, time.Second, time.Millisecond)
}

func TestPoolGivesUpAfterMaxDeliveries(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1, MaxDeliveries: 3, BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond}, logging.Discard())
	var calls int32
	runPool(t, pool, func(context.Context, string) (models.Job, error) {
		atomic.AddInt32(&calls, 1)
		return models.Job{}, apperr.Storage("save job", errors.New("db down"))
	})
	require.NoError(t, pool.Dispatch(context.Background(), "job-1"))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPoolDropsUnknownJobs(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1, BackoffInitial: time.Millisecond}, logging.Discard())
	var calls int32
	runPool(t, pool, func(context.Context, string) (models.Job, error) {
		atomic.AddInt32(&calls, 1)
		return models.Job{}, apperr.ErrNotFound
	})
	require.NoError(t, pool.Dispatch(context.Background(), "ghost"))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPoolDispatchBlocksWhenFull(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, logging.Discard())
	require.NoError(t, pool.Dispatch(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Dispatch(ctx, "b"), context.DeadlineExceeded)
}

func TestPoolSerializesSameJob(t *testing.T) {
	h := newHarness(t)
	pool := NewPool(PoolConfig{Workers: 4, BusyDelay: time.Millisecond}, logging.Discard())
	h.orch.scheduler = pool

	var mu sync.Mutex
	active := 0
	overlap := false
	h.setActivity(models.PhaseParsing, func(ctx context.Context, req activity.Request) (any, error) {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return defaultActivities()[models.PhaseParsing](ctx, req)
	})
	runPool(t, pool, h.orch.Resume)

	job := h.start()
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), job.ID))
	}
	require.Eventually(t, func() bool { return h.get(job.ID).Status == models.StatusCompleted }, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlap, "a job must never be advanced concurrently")
	assert.Equal(t, 1, h.callCount(models.PhaseParsing))
}

func runRecovery(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.RunRecovery(ctx, 10*time.Millisecond, 0, 0)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestJobRejectedByFullPoolIsRecovered(t *testing.T) {
	h := newHarness(t)
	pool := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, logging.Discard())
	h.orch.scheduler = pool

	first := h.start()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second, err := h.orch.Start(ctx, validRequest())
	require.NoError(t, err, "the job is durable even when the hand-off times out")

	runPool(t, pool, h.orch.Resume)
	runRecovery(t, h.orch)
	require.Eventually(t, func() bool {
		return h.get(first.ID).Status == models.StatusCompleted && h.get(second.ID).Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJobAbandonedByPoolIsRecovered(t *testing.T) {
	h := newHarness(t)
	pool := NewPool(PoolConfig{Workers: 1, MaxDeliveries: 2, BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond}, logging.Discard())
	h.orch.scheduler = pool
	job := h.start()

	var storeDown atomic.Bool
	storeDown.Store(true)
	var attempts int32
	h.store.failUpsert = func(models.Job) error {
		if storeDown.Load() {
			atomic.AddInt32(&attempts, 1)
			return errors.New("db down")
		}
		return nil
	}

	runPool(t, pool, h.orch.Resume)
	require.NoError(t, pool.Dispatch(context.Background(), job.ID))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, models.StatusRunning, h.get(job.ID).Status, "the pool gave up and nothing else runs the job")

	storeDown.Store(false)
	runRecovery(t, h.orch)
	require.Eventually(t, func() bool { return h.get(job.ID).Status == models.StatusCompleted }, 5*time.Second, 10*time.Millisecond)
}

func TestJobLostDuringRedisOutageIsRequeued(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewRedisQueue(client, queue.Options{Prefix: "test:"})

	h := newHarness(t)
	h.orch.scheduler = q
	mr.SetError("LOADING redis is loading the dataset")
	job := h.start()
	mr.SetError("")

	d, err := q.DequeueWithLease(context.Background())
	require.NoError(t, err)
	require.Nil(t, d, "the outage swallowed the hand-off")

	n, err := h.orch.RecoverStale(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	d, err = q.DequeueWithLease(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, job.ID, d.JobID)
}
