// Package queue implements the Task Queue: a Redis-backed reliable FIFO
// handing taskIds from the Ingress to the Worker Pool with at-least-once
// delivery and a visibility timeout on dequeue.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey  = "queue:pending"
	inflightKey = "queue:inflight"
	deadlineKey = "queue:deadlines"
)

// Queue is the Task Queue, backed by a Redis list (pending/inflight) plus
// a sorted set tracking per-item visibility deadlines.
type Queue struct {
	client            *redis.Client
	visibilityTimeout time.Duration
}

// New constructs a Queue against an already-connected Redis client and a
// configured visibility timeout.
func New(client *redis.Client, visibilityTimeout time.Duration) *Queue {
	return &Queue{client: client, visibilityTimeout: visibilityTimeout}
}

// Push adds a taskId to the head of the pending list (LPush); Pop drains
// from the tail, so items are popped in push order. Returns once the
// enqueue is durable.
func (q *Queue) Push(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, pendingKey, taskID).Err(); err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}
	return nil
}

// Pop performs a blocking receive with long-poll semantics. On success
// the item is moved to the inflight list and a visibility deadline is
// recorded; it stays invisible to other consumers until Ack/Nack or the
// deadline is reaped. Returns ("", nil) on timeout with no item.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPopLPush(ctx, pendingKey, inflightKey, timeout).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue: pop: %w", err)
	}

	deadline := time.Now().Add(q.visibilityTimeout).Unix()
	if err := q.client.ZAdd(ctx, deadlineKey, redis.Z{Score: float64(deadline), Member: res}).Err(); err != nil {
		return "", fmt.Errorf("queue: record deadline: %w", err)
	}

	return res, nil
}

// Ack permanently removes an item from the inflight set — the taskId has
// reached a terminal state and will not be redelivered.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, inflightKey, 1, taskID)
	pipe.ZRem(ctx, deadlineKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// Nack returns an item to the pending list for immediate redelivery,
// ahead of the rest of the backlog, since it represents a retry rather
// than new work. Pop drains via BRPopLPush (tail-first), so the item
// must go back on the tail (RPush) to be the next one popped.
func (q *Queue) Nack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, inflightKey, 1, taskID)
	pipe.ZRem(ctx, deadlineKey, taskID)
	pipe.RPush(ctx, pendingKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: nack: %w", err)
	}
	return nil
}

// Reap scans for inflight items whose visibility deadline has expired and
// returns them to pending, implementing queue-side crash recovery: a
// worker that dies between Pop and Ack/Nack leaves its item here.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	expired, err := q.client.ZRangeByScore(ctx, deadlineKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reap scan: %w", err)
	}

	reaped := 0
	for _, taskID := range expired {
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, inflightKey, 1, taskID)
		pipe.ZRem(ctx, deadlineKey, taskID)
		pipe.RPush(ctx, pendingKey, taskID)
		if _, err := pipe.Exec(ctx); err != nil {
			return reaped, fmt.Errorf("queue: reap redeliver %q: %w", taskID, err)
		}
		reaped++
	}
	return reaped, nil
}

// RunReaper runs Reap on a ticker until ctx is cancelled — invoked from
// cmd/worker as a background goroutine implementing the queue's
// visibility-timeout recovery mechanism.
func (q *Queue) RunReaper(ctx context.Context, interval time.Duration, onReap func(n int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.Reap(ctx)
			if err == nil && n > 0 && onReap != nil {
				onReap(n)
			}
		}
	}
}

// Depth reports the number of items currently pending — exposed as a
// metrics gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}
