package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dentalfabric/xray-fabric/internal/config"
	"github.com/dentalfabric/xray-fabric/internal/ingress"
	"github.com/dentalfabric/xray-fabric/internal/queue"
	"github.com/dentalfabric/xray-fabric/internal/store"
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

	handler := ingress.NewHandler(cfg, taskStore, taskQueue)
	router := ingress.NewRouter(handler, taskStore)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting ingress", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ingress server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("shutting down ingress...")

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(cancelCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingress stopped")
}
