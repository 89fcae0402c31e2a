package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, visibility time.Duration) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, visibility), mr
}

func TestPushPopAck(t *testing.T) {
	// Zero visibility: an un-acked item would already be due for Reap.
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	if err := q.Push(ctx, "task-1"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	got, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got != "task-1" {
		t.Fatalf("Pop() = %q, want task-1", got)
	}

	if err := q.Ack(ctx, "task-1"); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	n, err := q.Reap(ctx)
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Reap() = %d, want 0 after ack", n)
	}
}

func TestPopEmptyReturnsNoItem(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)

	got, err := q.Pop(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got != "" {
		t.Fatalf("Pop() = %q, want empty on timeout", got)
	}
}

func TestNackReturnsToHeadForRedelivery(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if err := q.Push(ctx, "task-1"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := q.Pop(ctx, time.Second); err != nil {
		t.Fatalf("Pop() error = %v", err)
	}

	// task-2 arrives and waits in the backlog while task-1 is in flight.
	if err := q.Push(ctx, "task-2"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	if err := q.Nack(ctx, "task-1"); err != nil {
		t.Fatalf("Nack() error = %v", err)
	}

	got, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("second Pop() error = %v", err)
	}
	if got != "task-1" {
		t.Fatalf("second Pop() = %q, want task-1 redelivered ahead of task-2's backlog", got)
	}

	got2, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("third Pop() error = %v", err)
	}
	if got2 != "task-2" {
		t.Fatalf("third Pop() = %q, want task-2", got2)
	}
}

func TestReapRedeliversExpiredVisibility(t *testing.T) {
	q, _ := newTestQueue(t, 10*time.Millisecond)
	ctx := context.Background()

	if err := q.Push(ctx, "task-1"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := q.Pop(ctx, time.Second); err != nil {
		t.Fatalf("Pop() error = %v", err)
	}

	// Simulate the worker crashing: no Ack/Nack ever arrives. Deadlines are
	// scored from the wall clock, so wait past the visibility deadline and
	// reap.
	time.Sleep(1100 * time.Millisecond)

	n, err := q.Reap(ctx)
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}

	got, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("Pop() after reap error = %v", err)
	}
	if got != "task-1" {
		t.Fatalf("Pop() after reap = %q, want task-1 redelivered", got)
	}
}

func TestDepth(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute)
	ctx := context.Background()

	_ = q.Push(ctx, "task-1")
	_ = q.Push(ctx, "task-2")

	n, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Depth() = %d, want 2", n)
	}
}
