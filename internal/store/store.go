// Package store implements the Task Store: a durable, TTL-bounded keyed
// map from taskId to a serialized Task Record, backed by Redis. It
// supplies the admission idempotency guarantee via an atomic
// insert-if-absent-with-expiry write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dentalfabric/xray-fabric/internal/model"
)

const keyPrefix = "task:"

// ErrAlreadyExists is returned by Create when a record with the same
// taskId is already present — the admission idempotency gate.
var ErrAlreadyExists = errors.New("store: task already exists")

// ErrNotFound is returned by Get/Delete when the taskId has no record.
var ErrNotFound = errors.New("store: task not found")

// Store is the Task Store, backed by a Redis client.
type Store struct {
	client *redis.Client
}

// Connect dials Redis with exponential-backoff retry, matching the
// teacher's database connection pattern generalized to a Redis ping loop.
func Connect(ctx context.Context, addr string, db int, password string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})

	const (
		maxRetries    = 10
		retryBaseWait = 1 * time.Second
		retryMaxWait  = 10 * time.Second
	)

	var lastErr error
	wait := retryBaseWait
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := client.Ping(ctx).Err(); err == nil {
			return &Store{client: client}, nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
	}

	return nil, fmt.Errorf("store: connect after %d attempts: %w", maxRetries, lastErr)
}

// NewWithClient wraps an already-constructed redis client — used in
// tests against miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client exposes the underlying Redis client so the Task Queue (a
// separate Redis-backed structure on the same connection) can be
// constructed from it without dialing a second pool.
func (s *Store) Client() *redis.Client {
	return s.client
}

func key(taskID string) string {
	return keyPrefix + taskID
}

// Create performs an atomic insert-if-absent-with-expiry. Returns
// ErrAlreadyExists if a record with the same taskId is already present.
func (s *Store) Create(ctx context.Context, rec *model.TaskRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key(rec.TaskID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Get loads a record by taskId. Returns ErrNotFound if absent — the
// Worker treats this as "already terminal, drop silently."
func (s *Store) Get(ctx context.Context, taskID string) (*model.TaskRecord, error) {
	payload, err := s.client.Get(ctx, key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}

	var rec model.TaskRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal record: %w", err)
	}
	return &rec, nil
}

// IncrementAttempt loads a record, increments its Attempt counter, and
// persists it back with its remaining TTL preserved. The Worker calls
// this on every pop so Attempt reflects how many times a taskId has been
// handed to a worker, including redeliveries after a crash or nack.
func (s *Store) IncrementAttempt(ctx context.Context, taskID string) (*model.TaskRecord, error) {
	rec, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	rec.Attempt++

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("store: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, key(taskID), payload, redis.KeepTTL).Err(); err != nil {
		return nil, fmt.Errorf("store: increment attempt: %w", err)
	}
	return rec, nil
}

// Delete removes a record. Returns ErrNotFound if it was already absent.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	n, err := s.client.Del(ctx, key(taskID)).Result()
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether a record is currently present.
func (s *Store) Exists(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Exists(ctx, key(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return n > 0, nil
}
