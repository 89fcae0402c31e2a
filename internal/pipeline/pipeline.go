// Package pipeline implements the Inference Dispatcher: a static
// registration table routing a Task Record to the pipeline matching its
// taskType. Pipelines are opaque external collaborators from the core's
// point of view — this package only defines the boundary and a mock
// fallback used when a pipeline's weights are unavailable.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dentalfabric/xray-fabric/internal/model"
)

// Pipeline turns an image + task metadata into a result payload or a
// structured error. No inheritance — concrete pipelines register
// themselves in a Dispatcher's table (spec's replaceable-source-pattern
// note on mapping BasePipeline subclassing to an interface).
type Pipeline interface {
	Analyze(ctx context.Context, rec *model.TaskRecord, imagePath string) (json.RawMessage, *model.ErrorDetail)
}

// Dispatcher selects a Pipeline by taskType.
type Dispatcher struct {
	registry map[model.TaskType]Pipeline
}

// NewDispatcher builds a Dispatcher from a static taskType->Pipeline map.
func NewDispatcher(registry map[model.TaskType]Pipeline) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch routes a record to its pipeline and pre-validates the
// taskType-specific required inputs (cephalometric's patientInfo) before
// invoking it.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *model.TaskRecord, imagePath string) (json.RawMessage, *model.ErrorDetail) {
	p, ok := d.registry[rec.TaskType]
	if !ok {
		detail := model.NewErrorDetail(model.ErrInferenceFailure,
			fmt.Sprintf("no pipeline registered for taskType %q", rec.TaskType),
			"This image type is not currently supported.")
		return nil, &detail
	}

	if rec.TaskType == model.TaskCephalometric && !rec.PatientInfo.Valid() {
		detail := model.NewErrorDetail(model.ErrInferenceFailure,
			"cephalometric task missing valid patientInfo at dispatch time",
			"Required patient information is missing.")
		return nil, &detail
	}

	return p.Analyze(ctx, rec, imagePath)
}
