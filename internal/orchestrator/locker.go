package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lease-analyzer/internal/apperr"
)

// KeyedMutex is the in-process Locker. It never waits: a held job is
// reported busy so the dispatcher can try again later.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedMutex returns an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

func (k *KeyedMutex) Acquire(_ context.Context, jobID string) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.held[jobID]; ok {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrBusy)
	}
	k.held[jobID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, jobID)
			k.mu.Unlock()
		})
	}, nil
}

// RedisLocker is a Locker shared by every worker process. The lock is a key
// holding a random token with a TTL; the holder refreshes it while working so
// a crashed holder only blocks the job until the TTL runs out.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, prefix: prefix + "lock:job:", ttl: ttl, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, jobID string) (func(), error) {
	key := l.prefix + jobID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, apperr.Storage("acquire job lock", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, apperr.ErrBusy)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("release job lock failed", "job_id", jobID, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) refresh(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			kept, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("refresh job lock failed", "key", key, "error", err)
				continue
			}
			if kept == 0 {
				l.logger.Warn("job lock lost", "key", key)
				return
			}
		}
	}
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
