package orchestrator

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/logging"
)

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	release, err := k.Acquire(ctx, "a")
	require.NoError(t, err)
	_, err = k.Acquire(ctx, "a")
	assert.ErrorIs(t, err, apperr.ErrBusy)

	other, err := k.Acquire(ctx, "b")
	require.NoError(t, err, "different jobs do not contend")
	other()

	release()
	release() // idempotent
	again, err := k.Acquire(ctx, "a")
	require.NoError(t, err)
	again()
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "test:", ttl, logging.Discard()), mr
}

func TestRedisLockerExclusive(t *testing.T) {
	l, mr := newRedisLocker(t, time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:job:job-1"))

	_, err = l.Acquire(ctx, "job-1")
	assert.ErrorIs(t, err, apperr.ErrBusy)

	release()
	assert.False(t, mr.Exists("test:lock:job:job-1"))

	release2, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	release2()
}

func TestRedisLockerExpiredHolderDoesNotReleaseNewOwner(t *testing.T) {
	l, mr := newRedisLocker(t, time.Minute)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	fresh, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("test:lock:job:job-1"), "stale release must not drop the new lock")
	fresh()
	assert.False(t, mr.Exists("test:lock:job:job-1"))
}

func TestRedisLockerUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, "test:", time.Minute, logging.Discard())
	mr.Close()

	_, err = l.Acquire(context.Background(), "job-1")
	assert.ErrorIs(t, err, apperr.ErrStorage)
}
