// Package weights implements the local-cache-first model weight fetch
// used by pipeline implementations to obtain their backing files from an
// S3/MinIO-compatible object store. It is opaque to the Inference
// Dispatcher — only pipelines call it.
package weights

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Cache fetches and caches model weight objects from S3/MinIO, mirroring
// the object key hierarchy under a local directory.
type Cache struct {
	client   *s3.Client
	bucket   string
	cacheDir string
}

// NewCache builds a Cache against the given S3-compatible endpoint.
func NewCache(ctx context.Context, endpointURL, accessKey, secretKey, bucket, cacheDir string) (*Cache, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("weights: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = true
	})

	return &Cache{client: client, bucket: bucket, cacheDir: cacheDir}, nil
}

// ErrWeightFetch wraps an underlying S3 client failure.
type ErrWeightFetch struct {
	Key string
	Err error
}

func (e *ErrWeightFetch) Error() string {
	return fmt.Sprintf("weights: fetch %q: %v", e.Key, e.Err)
}

func (e *ErrWeightFetch) Unwrap() error { return e.Err }

// Ensure returns the local path to s3Key, downloading it into the cache
// directory on first use. Subsequent calls with the same key and
// forceDownload=false are served from the local cache without a network
// round trip.
func (c *Cache) Ensure(ctx context.Context, s3Key string, forceDownload bool) (string, error) {
	localPath := filepath.Join(c.cacheDir, filepath.FromSlash(s3Key))

	if !forceDownload {
		if _, err := os.Stat(localPath); err == nil {
			return localPath, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", &ErrWeightFetch{Key: s3Key, Err: err}
	}

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		return "", &ErrWeightFetch{Key: s3Key, Err: err}
	}
	defer out.Body.Close()

	tmpPath := localPath + ".download"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", &ErrWeightFetch{Key: s3Key, Err: err}
	}

	if _, err := f.ReadFrom(out.Body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", &ErrWeightFetch{Key: s3Key, Err: err}
	}
	f.Close()

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return "", &ErrWeightFetch{Key: s3Key, Err: err}
	}

	return localPath, nil
}
