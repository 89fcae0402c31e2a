package ingress

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dentalfabric/xray-fabric/internal/model"
)

// jsonRequest is the POST /api/v1/analyze application/json body shape.
type jsonRequest struct {
	TaskID      string               `json:"taskId" validate:"required"`
	TaskType    model.TaskType       `json:"taskType" validate:"required"`
	ImageURL    string               `json:"imageUrl" validate:"required"`
	CallbackURL string               `json:"callbackUrl" validate:"required"`
	Metadata    json.RawMessage      `json:"metadata,omitempty"`
	PatientInfo *model.PatientInfo   `json:"patientInfo,omitempty"`
}

var validate = validator.New()

// validationError is a single human-readable admission rejection reason.
type validationError struct {
	Code    int
	Message string
}

func newValidationErr(message string) *validationError {
	return &validationError{Code: model.CodeValidationFailure, Message: message}
}

func newUnsupportedMediaErr(message string) *validationError {
	return &validationError{Code: model.CodeUnsupportedMedia, Message: message}
}

// isUUIDv4 reports whether s parses as a version-4 UUID, rejecting
// well-formed UUIDs of any other version.
func isUUIDv4(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4
}

func hasValidScheme(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

// validateJSON validates the parsed JSON request body against the
// admission rules in §4.1: schema well-formedness, UUIDv4-shaped taskId,
// taskType allow-set, callbackUrl scheme, cephalometric patientInfo
// requiredness.
func validateJSON(req *jsonRequest) *validationError {
	if err := validate.Struct(req); err != nil {
		return newValidationErr("missing required field: " + err.Error())
	}

	if !isUUIDv4(req.TaskID) {
		return newValidationErr("taskId must be a version-4 UUID")
	}

	if !model.ValidTaskTypes[req.TaskType] {
		return newValidationErr("taskType must be one of panoramic, cephalometric, dental_age")
	}

	if !hasValidScheme(req.ImageURL) {
		return newValidationErr("imageUrl must use http or https scheme")
	}

	if !hasValidScheme(req.CallbackURL) {
		return newValidationErr("callbackUrl must use http or https scheme")
	}

	if req.TaskType == model.TaskCephalometric && !req.PatientInfo.Valid() {
		return newValidationErr("cephalometric requests require patientInfo.gender and patientInfo.DentalAgeStage")
	}

	return nil
}

// allowedUploadExtensions is the allow-set of accepted multipart file
// extensions (lower-case, with the leading dot).
var allowedUploadExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".dcm": true,
}

func validateMultipartFields(taskID, taskType, callbackURL string, patientInfo *model.PatientInfo) *validationError {
	if taskID == "" || taskType == "" || callbackURL == "" {
		return newValidationErr("taskId, taskType, and callbackUrl are required")
	}
	if !isUUIDv4(taskID) {
		return newValidationErr("taskId must be a version-4 UUID")
	}
	if !model.ValidTaskTypes[model.TaskType(taskType)] {
		return newValidationErr("taskType must be one of panoramic, cephalometric, dental_age")
	}
	if !hasValidScheme(callbackURL) {
		return newValidationErr("callbackUrl must use http or https scheme")
	}
	if model.TaskType(taskType) == model.TaskCephalometric && !patientInfo.Valid() {
		return newValidationErr("cephalometric requests require patientInfo.gender and patientInfo.DentalAgeStage")
	}
	return nil
}

func validateExtension(ext string) *validationError {
	if !allowedUploadExtensions[strings.ToLower(ext)] {
		return newUnsupportedMediaErr("unsupported file extension: " + ext)
	}
	return nil
}
