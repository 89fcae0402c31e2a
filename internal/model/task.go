// Package model holds the shared data shapes for the task fabric: the
// durable Task Record, the outbound Callback Envelope, and the error
// taxonomy that links Worker failures to callback codes.
package model

import (
	"encoding/json"
	"time"
)

// TaskType selects which inference pipeline handles a task.
type TaskType string

const (
	TaskPanoramic     TaskType = "panoramic"
	TaskCephalometric TaskType = "cephalometric"
	TaskDentalAge     TaskType = "dental_age"
)

// ValidTaskTypes is the admission allow-set.
var ValidTaskTypes = map[TaskType]bool{
	TaskPanoramic:     true,
	TaskCephalometric: true,
	TaskDentalAge:     true,
}

// PatientInfo is required for cephalometric tasks only.
type PatientInfo struct {
	Gender         string   `json:"gender"`
	DentalAgeStage string   `json:"DentalAgeStage"`
	PixelSpacing   *float64 `json:"pixelSpacing,omitempty"`
}

var validGenders = map[string]bool{"Male": true, "Female": true}
var validDentalAgeStages = map[string]bool{"Permanent": true, "Mixed": true}

// Valid reports whether the patient info satisfies the allow-sets
// required for cephalometric admission.
func (p *PatientInfo) Valid() bool {
	if p == nil {
		return false
	}
	return validGenders[p.Gender] && validDentalAgeStages[p.DentalAgeStage]
}

// TaskRecord is the durable unit of work held by the Task Store while a
// task is in-flight. Present in the Store implies in-flight; absent
// implies terminal or never admitted.
type TaskRecord struct {
	TaskID      string          `json:"taskId"`
	TaskType    TaskType        `json:"taskType"`
	ImagePath   string          `json:"imagePath,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	CallbackURL string          `json:"callbackUrl"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	PatientInfo *PatientInfo    `json:"patientInfo,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Attempt     int             `json:"attempt"`
}

// ImageRef returns whichever of ImagePath/ImageURL is set, and whether it
// is a remote URL that must go through the Image Fetcher.
func (t *TaskRecord) ImageRef() (ref string, isURL bool) {
	if t.ImageURL != "" {
		return t.ImageURL, true
	}
	return t.ImagePath, false
}

// Status is the outcome carried in the Callback Envelope.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// RequestParameters echoes the subset of the original request relevant to
// the caller when interpreting the callback.
type RequestParameters struct {
	TaskType TaskType `json:"taskType"`
	ImageURL string   `json:"imageUrl,omitempty"`
}

// ErrorDetail carries a stable numeric code, an engineer-facing message,
// and a user-facing display message. Exactly one of Data/Error is non-nil
// in a CallbackEnvelope.
type ErrorDetail struct {
	Code           int    `json:"code"`
	Message        string `json:"message"`
	DisplayMessage string `json:"displayMessage"`
}

// CallbackEnvelope is the POST body delivered to a task's callbackUrl.
type CallbackEnvelope struct {
	TaskID            string            `json:"taskId"`
	Status            Status            `json:"status"`
	Timestamp         string            `json:"timestamp"`
	Metadata          json.RawMessage   `json:"metadata,omitempty"`
	RequestParameters RequestParameters `json:"requestParameters"`
	Data              json.RawMessage   `json:"data"`
	Error             *ErrorDetail      `json:"error"`
}

// NewSuccessEnvelope builds a terminal SUCCESS envelope.
func NewSuccessEnvelope(rec *TaskRecord, data json.RawMessage) CallbackEnvelope {
	return CallbackEnvelope{
		TaskID:    rec.TaskID,
		Status:    StatusSuccess,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  rec.Metadata,
		RequestParameters: RequestParameters{
			TaskType: rec.TaskType,
			ImageURL: rec.ImageURL,
		},
		Data:  data,
		Error: nil,
	}
}

// NewFailureEnvelope builds a terminal FAILURE envelope.
func NewFailureEnvelope(rec *TaskRecord, errDetail ErrorDetail) CallbackEnvelope {
	return CallbackEnvelope{
		TaskID:    rec.TaskID,
		Status:    StatusFailure,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  rec.Metadata,
		RequestParameters: RequestParameters{
			TaskType: rec.TaskType,
			ImageURL: rec.ImageURL,
		},
		Data:  nil,
		Error: &errDetail,
	}
}

// ErrorResponse is the JSON shape for synchronous Ingress error responses.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
