// Package worker implements the Worker Pool: drains the Task Queue,
// fetches the image, invokes the Inference Dispatcher, delivers the
// terminal callback, and releases the Task Record.
package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dentalfabric/xray-fabric/internal/callback"
	"github.com/dentalfabric/xray-fabric/internal/fetch"
	"github.com/dentalfabric/xray-fabric/internal/metrics"
	"github.com/dentalfabric/xray-fabric/internal/model"
	"github.com/dentalfabric/xray-fabric/internal/pipeline"
	"github.com/dentalfabric/xray-fabric/internal/queue"
	"github.com/dentalfabric/xray-fabric/internal/store"
)

// Pool runs N goroutines, each draining the Task Queue and processing
// one task at a time end-to-end — no interleaving within a goroutine.
type Pool struct {
	store       *store.Store
	queue       *queue.Queue
	fetcher     *fetch.Fetcher
	dispatcher  *pipeline.Dispatcher
	callbackDsp *callback.Dispatcher

	concurrency int
	popTimeout  time.Duration
	uploadDir   string
	onProcessed func(taskType model.TaskType, outcome string)
}

// Deps bundles the Pool's constructor dependencies (construction-time
// injection, no process-global mutable state).
type Deps struct {
	Store       *store.Store
	Queue       *queue.Queue
	Fetcher     *fetch.Fetcher
	Dispatcher  *pipeline.Dispatcher
	CallbackDsp *callback.Dispatcher
	Concurrency int
	PopTimeout  time.Duration
	UploadDir   string
	OnProcessed func(taskType model.TaskType, outcome string)
}

// NewPool constructs a Worker Pool from explicit dependencies.
func NewPool(d Deps) *Pool {
	popTimeout := d.PopTimeout
	if popTimeout == 0 {
		popTimeout = 5 * time.Second
	}
	return &Pool{
		store:       d.Store,
		queue:       d.Queue,
		fetcher:     d.Fetcher,
		dispatcher:  d.Dispatcher,
		callbackDsp: d.CallbackDsp,
		concurrency: d.Concurrency,
		popTimeout:  popTimeout,
		uploadDir:   d.UploadDir,
		onProcessed: d.OnProcessed,
	}
}

// Run starts the pool's goroutines and blocks until ctx is cancelled or
// a goroutine returns a fatal (non-task) error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := i
		g.Go(func() error {
			return p.loop(ctx, workerID)
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		taskID, err := p.queue.Pop(ctx, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("queue pop failed", "worker_id", workerID, "error", err)
			continue
		}
		if taskID == "" {
			continue // long-poll timeout, no item
		}

		p.processOne(ctx, workerID, taskID)
	}
}

// processOne runs the POP (already done by caller) -> FETCH -> INFER ->
// CALLBACK -> TERMINATE state machine for a single taskId.
func (p *Pool) processOne(ctx context.Context, workerID int, taskID string) {
	rec, err := p.store.IncrementAttempt(ctx, taskID)
	if err == store.ErrNotFound {
		// Already terminated by a prior successful attempt — at-least-once
		// redelivery after success. Record-absent-on-pop is the
		// idempotence signal; ack and move on.
		_ = p.queue.Ack(ctx, taskID)
		return
	}
	if err != nil {
		slog.Error("store get failed", "worker_id", workerID, "task_id", taskID, "error", err)
		_ = p.queue.Nack(ctx, taskID)
		return
	}

	slog.Info("task dispatched", "event", "task_dispatched", "worker_id", workerID, "task_id", taskID, "task_type", rec.TaskType, "attempt", rec.Attempt)

	imagePath, errDetail := p.fetchImage(ctx, rec)
	if errDetail != nil {
		p.fail(ctx, workerID, taskID, rec, *errDetail)
		return
	}
	if imagePath != "" {
		defer os.Remove(imagePath)
	}

	data, errDetail := p.dispatcher.Dispatch(ctx, rec, imagePath)
	if errDetail != nil {
		p.fail(ctx, workerID, taskID, rec, *errDetail)
		return
	}

	envelope := model.NewSuccessEnvelope(rec, data)
	p.deliver(ctx, workerID, taskID, rec, envelope, "success")
}

// fetchImage returns the local path to the image: either the already
// uploaded multipart file, or a freshly downloaded remote imageUrl.
func (p *Pool) fetchImage(ctx context.Context, rec *model.TaskRecord) (string, *model.ErrorDetail) {
	ref, isURL := rec.ImageRef()
	if !isURL {
		if _, err := os.Stat(ref); err != nil {
			detail := model.NewErrorDetail(model.ErrImageUnreachable,
				"uploaded file missing from disk: "+err.Error(),
				"The uploaded image could not be found.")
			return "", &detail
		}
		return ref, nil
	}

	destPath := filepath.Join(p.uploadDir, rec.TaskID+filepath.Ext(ref))
	if errDetail := p.fetcher.Fetch(ctx, ref, destPath); errDetail != nil {
		return "", errDetail
	}
	return destPath, nil
}

// fail builds and delivers a FAILURE envelope for a permanent error.
func (p *Pool) fail(ctx context.Context, workerID int, taskID string, rec *model.TaskRecord, detail model.ErrorDetail) {
	envelope := model.NewFailureEnvelope(rec, detail)
	p.deliver(ctx, workerID, taskID, rec, envelope, "failure")
}

// deliver sends the terminal callback and applies the delete-before-ack
// ordering on success, or ack-and-retain on undelivered callback.
func (p *Pool) deliver(ctx context.Context, workerID int, taskID string, rec *model.TaskRecord, envelope model.CallbackEnvelope, outcomeKind string) {
	delivered, err := p.callbackDsp.Send(ctx, rec.CallbackURL, envelope)
	if err != nil {
		slog.Error("callback send error", "worker_id", workerID, "task_id", taskID, "error", err)
	}
	metrics.CallbacksDelivered.WithLabelValues(strconv.FormatBool(delivered)).Inc()

	if !delivered {
		slog.Info("callback undelivered", "event", "callback_undelivered", "worker_id", workerID, "task_id", taskID)
		// ack the queue and retain the record until TTL — no retry in v1.
		_ = p.queue.Ack(ctx, taskID)
		if p.onProcessed != nil {
			p.onProcessed(rec.TaskType, "callback_undelivered")
		}
		return
	}

	// Record-delete happens-before ack: a redelivered taskId observing
	// record-absent on pop is how the Worker recognizes "already terminal."
	if err := p.store.Delete(ctx, taskID); err != nil && err != store.ErrNotFound {
		slog.Error("store delete failed", "worker_id", workerID, "task_id", taskID, "error", err)
	}
	_ = p.queue.Ack(ctx, taskID)

	slog.Info("callback delivered", "event", "callback_delivered", "worker_id", workerID, "task_id", taskID, "outcome", outcomeKind)
	if p.onProcessed != nil {
		p.onProcessed(rec.TaskType, outcomeKind)
	}
}
