// Package queue dispatches job ids to worker processes through Redis with
// at-least-once delivery: a dequeued id is leased, and a lease that is not
// acknowledged before its deadline is handed out again.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures key names and lease length.
type Options struct {
	// Prefix namespaces every key, e.g. "lease:".
	Prefix            string
	VisibilityTimeout time.Duration
	DLQName           string
}

// Delivery is one leased hand-out of a job id.
type Delivery struct {
	JobID string
	// Deliveries counts hand-outs since the job was last acknowledged,
	// including this one.
	Deliveries int
}

// RedisQueue coordinates ready, in-flight, and scheduled job ids in Redis.
//
//	<prefix>queue:ready       list of ids ready to run
//	<prefix>queue:inflight    zset id -> lease deadline (ms)
//	<prefix>queue:scheduled   zset id -> run-at (ms)
//	<prefix>queue:meta:<id>   hash with the delivery counter
type RedisQueue struct {
	client        redis.UniversalClient
	readyKey      string
	inflightKey   string
	scheduledKey  string
	metaPrefix    string
	dlqKey        string
	visibilityTTL time.Duration
	now           func() time.Time
}

// NewRedisQueue builds a queue over an existing client.
func NewRedisQueue(client redis.UniversalClient, opts Options) *RedisQueue {
	visibility := opts.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	dlq := opts.DLQName
	if dlq == "" {
		dlq = "queue:dlq"
	}
	return &RedisQueue{
		client:        client,
		readyKey:      opts.Prefix + "queue:ready",
		inflightKey:   opts.Prefix + "queue:inflight",
		scheduledKey:  opts.Prefix + "queue:scheduled",
		metaPrefix:    opts.Prefix + "queue:meta:",
		dlqKey:        opts.Prefix + dlq,
		visibilityTTL: visibility,
		now:           time.Now,
	}
}

// VisibilityTimeout is the lease length granted on dequeue.
func (q *RedisQueue) VisibilityTimeout() time.Duration { return q.visibilityTTL }

func (q *RedisQueue) metaKey(jobID string) string {
	return q.metaPrefix + jobID
}

// Dispatch makes a job runnable now.
func (q *RedisQueue) Dispatch(ctx context.Context, jobID string) error {
	return q.Enqueue(ctx, jobID, q.now())
}

// Enqueue inserts a job into either the scheduled set or the ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, runAt time.Time) error {
	if runAt.After(q.now()) {
		return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID}).Err()
	}
	return q.client.RPush(ctx, q.readyKey, jobID).Err()
}

// Retry releases the lease and schedules another delivery at runAt. The
// delivery counter is kept.
func (q *RedisQueue) Retry(ctx context.Context, jobID string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// Postpone is Retry without charging the delivery to the job, for hand-outs
// that never got to run.
func (q *RedisQueue) Postpone(ctx context.Context, jobID string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.HIncrBy(ctx, q.metaKey(jobID), "deliveries", -1)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into the ready queue. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, limit int64) (int, error) {
	res, err := promoteScript.Run(ctx, q.client, []string{q.scheduledKey, q.readyKey},
		q.now().UnixMilli(), limit).Int()
	if err != nil {
		return 0, fmt.Errorf("promote scheduled: %w", err)
	}
	return res, nil
}

// DequeueWithLease pops the next ready job and leases it for the visibility
// timeout. It returns a nil delivery when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (*Delivery, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		q.now().Add(q.visibilityTTL).UnixMilli(), q.metaPrefix).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	jobID, _ := arr[0].(string)
	count, _ := arr[1].(int64)
	return &Delivery{JobID: jobID, Deliveries: int(count)}, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
// It is a no-op once the lease was reclaimed or acknowledged.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(q.now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and resets its delivery counter.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetter acknowledges the job and parks it on the dead-letter list.
func (q *RedisQueue) DeadLetter(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	pipe.RPush(ctx, q.dlqKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(q.now().UnixMilli(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var reclaimed []string
	for _, id := range ids {
		// ZREM decides ownership so two reclaimers never both re-push an id.
		removed, err := q.client.ZRem(ctx, q.inflightKey, id).Result()
		if err != nil {
			return reclaimed, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.readyKey, id).Err(); err != nil {
			return reclaimed, err
		}
		reclaimed = append(reclaimed, id)
	}
	return reclaimed, nil
}

// DLQPeek reads the oldest dead-lettered job IDs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if not job then
  return nil
end
redis.call('ZADD', KEYS[2], ARGV[1], job)
local n = redis.call('HINCRBY', ARGV[2] .. job, 'deliveries', 1)
return {job, n}
`)

var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)
