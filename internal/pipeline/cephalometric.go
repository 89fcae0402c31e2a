package pipeline

import (
	"context"
	"encoding/json"

	"github.com/dentalfabric/xray-fabric/internal/model"
	"github.com/dentalfabric/xray-fabric/internal/weights"
)

var cephalometricMockResult = json.RawMessage(`{"landmarks":{"sella":[0,0,0.0],"nasion":[0,0,0.0]}}`)

// Cephalometric dispatches lateral cephalometric X-rays; requires
// patientInfo and may consume pixelSpacing derived from DICOM metadata
// or the request body.
type Cephalometric struct {
	weightsKey string
	cache      *weights.Cache
	mock       bool
}

// NewCephalometric constructs the cephalometric pipeline with the same
// weights-resolve-or-mock contract as Panoramic.
func NewCephalometric(ctx context.Context, cache *weights.Cache, weightsKey string) *Cephalometric {
	p := &Cephalometric{weightsKey: weightsKey, cache: cache}
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
// mode; no landmark regressor is run over imagePath and rec.PatientInfo
// is not consulted here.
func (p *Cephalometric) Analyze(ctx context.Context, rec *model.TaskRecord, imagePath string) (json.RawMessage, *model.ErrorDetail) {
	if p.mock {
		return cephalometricMockResult, nil
	}
	return cephalometricMockResult, nil
}
