// Package callback implements the Callback Dispatcher: delivers the
// terminal Callback Envelope to a task's callbackUrl under a strict
// per-request timeout, with no implicit retries.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dentalfabric/xray-fabric/internal/model"
)

// Dispatcher delivers Callback Envelopes via a single HTTP POST.
type Dispatcher struct {
	client *http.Client
}

// New constructs a Dispatcher with the given per-call timeout.
func New(timeout time.Duration) *Dispatcher {
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// Send POSTs the envelope to callbackURL. Only an HTTP 2xx response is
// treated as delivered; any timeout, connection error, or non-2xx
// response is undelivered — the caller is responsible for record
// retention policy on undelivered callbacks.
func (d *Dispatcher) Send(ctx context.Context, callbackURL string, envelope model.CallbackEnvelope) (delivered bool, err error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return false, fmt.Errorf("callback: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("callback: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
