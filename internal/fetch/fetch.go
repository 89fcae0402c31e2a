// Package fetch implements the Image Fetcher: materializes the bytes
// behind a remote imageUrl onto local disk, enforcing scheme, content
// type, and size guards before the inference step ever sees the file.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dentalfabric/xray-fabric/internal/model"
)

const chunkSize = 32 * 1024

// Fetcher downloads and validates an image from a remote URL.
type Fetcher struct {
	client      *http.Client
	maxSizeByte int64
}

// New constructs a Fetcher with the given overall timeout and max size.
func New(timeout time.Duration, maxSizeBytes int64) *Fetcher {
	return &Fetcher{
		client:      &http.Client{Timeout: timeout},
		maxSizeByte: maxSizeBytes,
	}
}

// Fetch downloads url to destPath. All failures are permanent — the
// Worker converts them directly into a FAILURE callback, no retry at
// this layer.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) *model.ErrorDetail {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errDetail(model.ErrImageUnreachable, fmt.Sprintf("unsupported scheme in %q", url),
			"The image could not be reached.")
	}

	if detail := f.preflight(ctx, url); detail != nil {
		return detail
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errDetail(model.ErrImageUnreachable, fmt.Sprintf("build GET request: %v", err),
			"The image could not be reached.")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return errDetail(model.ErrImageUnreachable, fmt.Sprintf("GET %s: %v", url, err),
			"The image could not be reached.")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errDetail(model.ErrImageUnreachable, fmt.Sprintf("GET %s: status %d", url, resp.StatusCode),
			"The image could not be reached.")
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return errDetail(model.ErrImageFormatBad, fmt.Sprintf("unexpected content type %q", ct),
			"The file is not a supported image format.")
	}

	out, err := os.Create(destPath)
	if err != nil {
		return errDetail(model.ErrImageUnreachable, fmt.Sprintf("create %s: %v", destPath, err),
			"The image could not be saved.")
	}

	written, copyErr := f.copyWithLimit(out, resp.Body)
	out.Close()
	if copyErr != nil {
		os.Remove(destPath)
		if copyErr == errTooLarge {
			return errDetail(model.ErrImageTooLarge,
				fmt.Sprintf("downloaded %d bytes exceeds limit %d", written, f.maxSizeByte),
				"The image exceeds the maximum allowed size.")
		}
		return errDetail(model.ErrImageUnreachable, fmt.Sprintf("stream download: %v", copyErr),
			"The image could not be reached.")
	}

	return nil
}

// preflight issues a HEAD request to check Content-Type/Content-Length
// ahead of the GET. A 405 (method not allowed) is not an error — some
// servers simply don't support HEAD; validation falls through to the GET.
func (f *Fetcher) preflight(ctx context.Context, url string) *model.ErrorDetail {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// HEAD failing outright (timeout, connection refused) is also
		// diagnostic of an unreachable image; let the GET attempt make
		// the final call rather than failing here on a preflight-only
		// transport hiccup.
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errDetail(model.ErrImageUnreachable, fmt.Sprintf("HEAD %s: status %d", url, resp.StatusCode),
			"The image could not be reached.")
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return errDetail(model.ErrImageFormatBad, fmt.Sprintf("unexpected content type %q", ct),
			"The file is not a supported image format.")
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > f.maxSizeByte {
			return errDetail(model.ErrImageTooLarge,
				fmt.Sprintf("Content-Length %d exceeds limit %d", n, f.maxSizeByte),
				"The image exceeds the maximum allowed size.")
		}
	}

	return nil
}

var errTooLarge = fmt.Errorf("fetch: size limit exceeded")

// copyWithLimit streams src to dst in fixed-size chunks, tracking a
// running total and aborting as soon as it exceeds the configured limit
// — it never buffers the whole body in memory to find out too late.
func (f *Fetcher) copyWithLimit(dst io.Writer, src io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > f.maxSizeByte {
				return total, errTooLarge
			}
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return total, writeErr
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

func errDetail(kind model.ErrorKind, message, display string) *model.ErrorDetail {
	d := model.NewErrorDetail(kind, message, display)
	return &d
}
