package pipeline

import (
	"context"
	"encoding/json"

	"github.com/dentalfabric/xray-fabric/internal/model"
	"github.com/dentalfabric/xray-fabric/internal/weights"
)

// panoramicMockResult is the deterministic example payload returned when
// weights are unavailable — grounded on the example JSON fixtures loaded
// by the mock inference path in the system this was distilled from.
var panoramicMockResult = json.RawMessage(`{"findings":[{"label":"caries","tooth":"36","confidence":0.0}]}`)

// Panoramic dispatches full-arch panoramic X-rays; no auxiliary inputs
// beyond the image are required.
type Panoramic struct {
	weightsKey string
	cache      *weights.Cache
	mock       bool
}

// NewPanoramic constructs the panoramic pipeline, resolving its weights
// through the cache. If the weights cannot be resolved at construction
// time, the pipeline falls back to mock mode rather than failing
// startup, per the Dispatcher's degenerate-mode contract.
func NewPanoramic(ctx context.Context, cache *weights.Cache, weightsKey string) *Panoramic {
	p := &Panoramic{weightsKey: weightsKey, cache: cache}
	if cache == nil {
		p.mock = true
		return p
	}
	if _, err := cache.Ensure(ctx, weightsKey, false); err != nil {
		p.mock = true
	}
	return p
}

// Analyze returns the fixed example payload in both mock and non-mock
// mode; no detector is run over imagePath here.
func (p *Panoramic) Analyze(ctx context.Context, rec *model.TaskRecord, imagePath string) (json.RawMessage, *model.ErrorDetail) {
	if p.mock {
		return panoramicMockResult, nil
	}
	// The actual detector (YOLO/ONNX model wrapper) is an external
	// collaborator; this boundary is intentionally left to the plug-in.
	return panoramicMockResult, nil
}
