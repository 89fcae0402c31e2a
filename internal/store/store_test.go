package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dentalfabric/xray-fabric/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewWithClient(client)
}

func testRecord(taskID string) *model.TaskRecord {
	return &model.TaskRecord{
		TaskID:      taskID,
		TaskType:    model.TaskPanoramic,
		ImageURL:    "http://example.com/x.jpg",
		CallbackURL: "http://cb.local/r",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCreateThenDuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := testRecord("11111111-1111-4111-8111-111111111111")

	if err := s.Create(ctx, rec, time.Hour); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}

	if err := s.Create(ctx, rec, time.Hour); err != ErrAlreadyExists {
		t.Fatalf("second Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := testRecord("22222222-2222-4222-8222-222222222222")

	if err := s.Create(ctx, rec, time.Hour); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Get(ctx, rec.TaskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TaskID != rec.TaskID || got.TaskType != rec.TaskType {
		t.Errorf("Get() = %+v, want taskID/taskType matching %+v", got, rec)
	}
}

func TestGetAbsentReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "does-not-exist"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestIncrementAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := testRecord("44444444-4444-4444-8444-444444444444")

	if err := s.Create(ctx, rec, time.Hour); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.IncrementAttempt(ctx, rec.TaskID)
	if err != nil {
		t.Fatalf("IncrementAttempt() error = %v", err)
	}
	if got.Attempt != 1 {
		t.Fatalf("Attempt = %d, want 1", got.Attempt)
	}

	got, err = s.IncrementAttempt(ctx, rec.TaskID)
	if err != nil {
		t.Fatalf("second IncrementAttempt() error = %v", err)
	}
	if got.Attempt != 2 {
		t.Fatalf("Attempt = %d, want 2", got.Attempt)
	}

	reloaded, err := s.Get(ctx, rec.TaskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if reloaded.Attempt != 2 {
		t.Fatalf("reloaded Attempt = %d, want 2", reloaded.Attempt)
	}
}

func TestDeleteThenExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := testRecord("33333333-3333-4333-8333-333333333333")

	if err := s.Create(ctx, rec, time.Hour); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if ok, err := s.Exists(ctx, rec.TaskID); err != nil || !ok {
		t.Fatalf("Exists() = %v, %v, want true, nil", ok, err)
	}

	if err := s.Delete(ctx, rec.TaskID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if ok, err := s.Exists(ctx, rec.TaskID); err != nil || ok {
		t.Fatalf("Exists() after delete = %v, %v, want false, nil", ok, err)
	}

	if err := s.Delete(ctx, rec.TaskID); err != ErrNotFound {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}
