package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dentalfabric/xray-fabric/internal/config"
	"github.com/dentalfabric/xray-fabric/internal/metrics"
	"github.com/dentalfabric/xray-fabric/internal/model"
	"github.com/dentalfabric/xray-fabric/internal/pipeline"
	"github.com/dentalfabric/xray-fabric/internal/queue"
	"github.com/dentalfabric/xray-fabric/internal/store"
	"github.com/dentalfabric/xray-fabric/internal/weights"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	taskStore, err := store.Connect(ctx, cfg.StoreURL, cfg.StoreDB, cfg.StorePassword)
	if err != nil {
		slog.Error("failed to connect to task store", "error", err)
		os.Exit(1)
	}
	defer taskStore.Close()

	taskQueue := queue.New(taskStore.Client(), cfg.QueueVisibilityTimeout())

	weightsCache, err := weights.NewCache(ctx, cfg.S3EndpointURL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3BucketName, cfg.WeightsCacheDir)
	if err != nil {
		// Weight fetching is an external collaborator; a pipeline that
		// cannot construct a cache simply runs in mock mode rather than
		// failing worker startup.
		slog.Warn("weights cache unavailable, pipelines will run in mock mode", "error", err)
		weightsCache = nil
	}

	dispatcher := pipeline.NewDispatcher(map[model.TaskType]pipeline.Pipeline{
		model.TaskPanoramic:     pipeline.NewPanoramic(ctx, weightsCache, "panoramic/v1/weights.onnx"),
		model.TaskCephalometric: pipeline.NewCephalometric(ctx, weightsCache, "cephalometric/v1/weights.onnx"),
		model.TaskDentalAge:     pipeline.NewDentalAge(ctx, weightsCache, "dental_age/v1/weights.onnx"),
	})

	pool := newWorkerPool(cfg, taskStore, taskQueue, dispatcher)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go taskQueue.RunReaper(shutdownCtx, 10*time.Second, func(n int) {
		slog.Info("queue reaper redelivered expired items", "event", "queue_reaped", "count", n)
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				if n, err := taskQueue.Depth(shutdownCtx); err == nil {
					metrics.QueueDepth.Set(float64(n))
				}
			}
		}
	}()

	slog.Info("starting worker pool", "concurrency", cfg.WorkerConcurrency, "pool_mode", cfg.WorkerPool)
	if err := pool.Run(shutdownCtx); err != nil {
		slog.Error("worker pool error", "error", err)
		os.Exit(1)
	}

	_ = metricsSrv.Shutdown(context.Background())
	slog.Info("worker stopped")
}
