// Package config loads all environment variables for the ingress and
// worker binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration shared by both binaries, plus the
// section specific to whichever one is running.
type Config struct {
	// API (Ingress)
	APIHost       string
	APIPort       string
	UploadDir     string
	UploadMaxMB   int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration

	// Worker
	WorkerConcurrency int
	WorkerLogLevel    string
	WorkerPool        string // threaded | single-process

	// Task Queue
	QueueVisibilityTimeoutSec int
	QueueBrokerURL            string

	// Task Store (Redis)
	StoreTTLSec     int
	StoreURL        string
	StoreDB         int
	StorePassword   string

	// Callback Dispatcher
	CallbackTimeoutSec int

	// Image Fetcher
	ImageTimeoutSec       int
	ImageMaxSizeMB        int
	ImageAllowedExtension []string

	// Weights cache (S3/MinIO)
	S3EndpointURL   string
	S3AccessKey     string
	S3SecretKey     string
	S3BucketName    string
	WeightsCacheDir string

	// Metrics
	MetricsAddr string
}

// Load reads configuration from environment variables with sensible
// defaults, matching spec.md §6's enumerated configuration keys.
func Load() (*Config, error) {
	cfg := &Config{
		APIHost:      envOr("API_HOST", "0.0.0.0"),
		APIPort:      envOr("API_PORT", "8000"),
		UploadDir:    envOr("UPLOAD_DIR", "/data/uploads"),
		UploadMaxMB:  envInt("UPLOAD_MAX_SIZE_MB", 50),
		ReadTimeout:  time.Duration(envInt("API_READ_TIMEOUT_SEC", 30)) * time.Second,
		WriteTimeout: time.Duration(envInt("API_WRITE_TIMEOUT_SEC", 30)) * time.Second,
		IdleTimeout:  60 * time.Second,

		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 4),
		WorkerLogLevel:    envOr("WORKER_LOGLEVEL", "info"),
		WorkerPool:        envOr("WORKER_POOL", "threaded"),

		QueueVisibilityTimeoutSec: envInt("QUEUE_VISIBILITY_TIMEOUT_SEC", 120),
		QueueBrokerURL:            envOr("QUEUE_BROKER_URL", ""),

		StoreTTLSec:   envInt("STORE_TTL_SEC", 3600),
		StoreURL:      buildStoreURL(),
		StoreDB:       envInt("REDIS_DB", 0),
		StorePassword: os.Getenv("REDIS_PASSWORD"),

		CallbackTimeoutSec: envInt("CALLBACK_TIMEOUT_SEC", 10),

		ImageTimeoutSec:       envInt("IMAGE_DOWNLOAD_TIMEOUT_SEC", 30),
		ImageMaxSizeMB:        envInt("IMAGE_DOWNLOAD_MAX_SIZE_MB", 50),
		ImageAllowedExtension: []string{".jpg", ".jpeg", ".png", ".bmp", ".dcm"},

		S3EndpointURL:   os.Getenv("S3_ENDPOINT_URL"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3BucketName:    envOr("S3_BUCKET_NAME", "model-weights"),
		WeightsCacheDir: envOr("WEIGHTS_CACHE_DIR", "./cached_weights"),

		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
	}

	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", cfg.WorkerConcurrency)
	}

	return cfg, nil
}

// Addr returns the Ingress listen address as "host:port".
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.APIHost, c.APIPort)
}

// StoreTTL returns the Task Store record TTL as a time.Duration.
func (c *Config) StoreTTL() time.Duration {
	return time.Duration(c.StoreTTLSec) * time.Second
}

// QueueVisibilityTimeout returns the queue visibility timeout.
func (c *Config) QueueVisibilityTimeout() time.Duration {
	return time.Duration(c.QueueVisibilityTimeoutSec) * time.Second
}

// CallbackTimeout returns the per-callback POST timeout.
func (c *Config) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutSec) * time.Second
}

// ImageTimeout returns the overall image-fetch timeout.
func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.ImageTimeoutSec) * time.Second
}

// UploadMaxSizeBytes returns the multipart upload size ceiling in bytes.
func (c *Config) UploadMaxSizeBytes() int64 {
	return int64(c.UploadMaxMB) * 1024 * 1024
}

// ImageMaxSizeBytes returns the fetched-image size ceiling in bytes.
func (c *Config) ImageMaxSizeBytes() int64 {
	return int64(c.ImageMaxSizeMB) * 1024 * 1024
}

func buildStoreURL() string {
	host := envOr("REDIS_HOST", "localhost")
	port := envOr("REDIS_PORT", "6379")
	return fmt.Sprintf("%s:%s", host, port)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
