package pipeline

import (
	"context"
	"encoding/json"

	"github.com/dentalfabric/xray-fabric/internal/model"
	"github.com/dentalfabric/xray-fabric/internal/weights"
)

var dentalAgeMockResult = json.RawMessage(`{"estimatedAgeYears":0.0,"stage":"unknown"}`)

// DentalAge dispatches dental-age estimation requests; consumes only the
// image, no auxiliary patient inputs.
type DentalAge struct {
	weightsKey string
	cache      *weights.Cache
	mock       bool
}

// NewDentalAge constructs the dental-age pipeline with the same
// weights-resolve-or-mock contract as Panoramic.
func NewDentalAge(ctx context.Context, cache *weights.Cache, weightsKey string) *DentalAge {
	p := &DentalAge{weightsKey: weightsKey, cache: cache}
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
// mode; no dental-age estimator is run over imagePath here.
func (p *DentalAge) Analyze(ctx context.Context, rec *model.TaskRecord, imagePath string) (json.RawMessage, *model.ErrorDetail) {
	if p.mock {
		return dentalAgeMockResult, nil
	}
	return dentalAgeMockResult, nil
}
