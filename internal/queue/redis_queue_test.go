package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newQueue(t *testing.T) (*RedisQueue, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(client, Options{Prefix: "test:", VisibilityTimeout: 10 * time.Second, DLQName: "queue:dlq"})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }
	return q, &clock
}

func TestDequeueLeasesAndCountsDeliveries(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t)

	if d, err := q.DequeueWithLease(ctx); err != nil || d != nil {
		t.Fatalf("expected empty queue, got %+v err=%v", d, err)
	}
	if err := q.Dispatch(ctx, "job-1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d, err := q.DequeueWithLease(ctx)
	if err != nil || d == nil {
		t.Fatalf("dequeue: %+v err=%v", d, err)
	}
	if d.JobID != "job-1" || d.Deliveries != 1 {
		t.Fatalf("unexpected delivery %+v", d)
	}

	// Lease not yet expired.
	if ids, _ := q.RequeueExpired(ctx, 10); len(ids) != 0 {
		t.Fatalf("lease reclaimed early: %v", ids)
	}
	*clock = clock.Add(11 * time.Second)
	ids, err := q.RequeueExpired(ctx, 10)
	if err != nil || len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("expected job-1 reclaimed, got %v err=%v", ids, err)
	}

	d, _ = q.DequeueWithLease(ctx)
	if d == nil || d.Deliveries != 2 {
		t.Fatalf("expected second delivery, got %+v", d)
	}
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	*clock = clock.Add(time.Minute)
	if ids, _ := q.RequeueExpired(ctx, 10); len(ids) != 0 {
		t.Fatalf("acked job must not be reclaimed: %v", ids)
	}
}

func TestExtendLease(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t)
	_ = q.Dispatch(ctx, "job-1")
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	*clock = clock.Add(8 * time.Second)
	if err := q.ExtendLease(ctx, "job-1", 10*time.Second); err != nil {
		t.Fatalf("extend: %v", err)
	}
	*clock = clock.Add(8 * time.Second)
	if ids, _ := q.RequeueExpired(ctx, 10); len(ids) != 0 {
		t.Fatalf("extended lease reclaimed: %v", ids)
	}

	// Extending an unknown lease must not create one.
	if err := q.ExtendLease(ctx, "ghost", time.Second); err != nil {
		t.Fatalf("extend ghost: %v", err)
	}
	*clock = clock.Add(time.Hour)
	ids, _ := q.RequeueExpired(ctx, 10)
	if len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("unexpected reclaimed ids %v", ids)
	}
}

func TestRetryKeepsDeliveryCountAndPromotes(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t)
	_ = q.Dispatch(ctx, "job-1")
	d, _ := q.DequeueWithLease(ctx)

	if err := q.Retry(ctx, d.JobID, clock.Add(5*time.Second)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n, _ := q.PromoteScheduled(ctx, 10); n != 0 {
		t.Fatalf("promoted before due: %d", n)
	}
	*clock = clock.Add(5 * time.Second)
	if n, err := q.PromoteScheduled(ctx, 10); err != nil || n != 1 {
		t.Fatalf("expected one promotion, got %d err=%v", n, err)
	}
	if depth, _ := q.ReadyDepth(ctx); depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
	d, _ = q.DequeueWithLease(ctx)
	if d == nil || d.Deliveries != 2 {
		t.Fatalf("delivery counter should survive retry, got %+v", d)
	}
}

func TestDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)
	_ = q.Dispatch(ctx, "job-1")
	_, _ = q.DequeueWithLease(ctx)
	if err := q.DeadLetter(ctx, "job-1"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	ids, err := q.DLQPeek(ctx, 10)
	if err != nil || len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("unexpected dlq %v err=%v", ids, err)
	}
	_ = q.Dispatch(ctx, "job-1")
	d, _ := q.DequeueWithLease(ctx)
	if d == nil || d.Deliveries != 1 {
		t.Fatalf("dead letter should reset counter, got %+v", d)
	}
}

func TestEnqueueFuture(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t)
	if err := q.Enqueue(ctx, "job-1", clock.Add(time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if d, _ := q.DequeueWithLease(ctx); d != nil {
		t.Fatalf("future job must not be ready: %+v", d)
	}
}

func TestPostponeDoesNotChargeDelivery(t *testing.T) {
	ctx := context.Background()
	q, clock := newQueue(t)
	_ = q.Dispatch(ctx, "job-1")
	d, _ := q.DequeueWithLease(ctx)
	if err := q.Postpone(ctx, d.JobID, *clock); err != nil {
		t.Fatalf("postpone: %v", err)
	}
	if n, _ := q.PromoteScheduled(ctx, 10); n != 1 {
		t.Fatalf("expected one promotion, got %d", n)
	}
	d, _ = q.DequeueWithLease(ctx)
	if d == nil || d.Deliveries != 1 {
		t.Fatalf("postponed delivery should not count, got %+v", d)
	}
	*clock = clock.Add(time.Hour)
	if ids, _ := q.RequeueExpired(ctx, 10); len(ids) != 1 {
		t.Fatalf("postponed job should be leased again, got %v", ids)
	}
}
