package main

import (
	"github.com/dentalfabric/xray-fabric/internal/callback"
	"github.com/dentalfabric/xray-fabric/internal/config"
	"github.com/dentalfabric/xray-fabric/internal/fetch"
	"github.com/dentalfabric/xray-fabric/internal/metrics"
	"github.com/dentalfabric/xray-fabric/internal/model"
	"github.com/dentalfabric/xray-fabric/internal/pipeline"
	"github.com/dentalfabric/xray-fabric/internal/queue"
	"github.com/dentalfabric/xray-fabric/internal/store"
	"github.com/dentalfabric/xray-fabric/internal/worker"
)

// newWorkerPool wires the Worker Pool's construction-time dependencies
// from configuration, matching the explicit-dependency-injection
// replaceable-source-pattern note: no process-global state holds the
// store/queue/fetcher/dispatcher/callback clients.
func newWorkerPool(cfg *config.Config, s *store.Store, q *queue.Queue, dispatcher *pipeline.Dispatcher) *worker.Pool {
	return worker.NewPool(worker.Deps{
		Store:       s,
		Queue:       q,
		Fetcher:     fetch.New(cfg.ImageTimeout(), cfg.ImageMaxSizeBytes()),
		Dispatcher:  dispatcher,
		CallbackDsp: callback.New(cfg.CallbackTimeout()),
		Concurrency: cfg.WorkerConcurrency,
		UploadDir:   cfg.UploadDir,
		OnProcessed: func(taskType model.TaskType, outcome string) {
			metrics.TasksProcessed.WithLabelValues(string(taskType), outcome).Inc()
		},
	})
}
