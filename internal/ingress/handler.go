// Package ingress implements the Ingress API: translates an HTTP request
// into a durable, queued task, or rejects it synchronously. This is the
// admission idempotency gate described in §4.1 — the Store's atomic
// insert-if-absent is the only thing standing between a retried request
// and a duplicate task.
package ingress

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dentalfabric/xray-fabric/internal/config"
	"github.com/dentalfabric/xray-fabric/internal/metrics"
	"github.com/dentalfabric/xray-fabric/internal/model"
	"github.com/dentalfabric/xray-fabric/internal/queue"
	"github.com/dentalfabric/xray-fabric/internal/store"
)

// Handler serves POST /api/v1/analyze.
type Handler struct {
	cfg   *config.Config
	store *store.Store
	queue *queue.Queue
}

// NewHandler constructs an ingress Handler from explicit dependencies —
// no process-global mutable state.
func NewHandler(cfg *config.Config, s *store.Store, q *queue.Queue) *Handler {
	return &Handler{cfg: cfg, store: s, queue: q}
}

// analyzeResponse is the 202 Accepted body.
type analyzeResponse struct {
	TaskID      string          `json:"taskId"`
	Status      string          `json:"status"`
	SubmittedAt string          `json:"submittedAt"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Analyze handles POST /api/v1/analyze for both multipart/form-data and
// application/json bodies.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contentType := r.Header.Get("Content-Type")

	var rec *model.TaskRecord
	var tempPath string
	var vErr *validationError

	if strings.HasPrefix(contentType, "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.UploadMaxSizeBytes())
		rec, tempPath, vErr = h.parseMultipart(r)
	} else {
		rec, vErr = h.parseJSON(r)
	}

	if vErr != nil {
		metrics.Rejections.WithLabelValues(fmt.Sprintf("%d", vErr.Code)).Inc()
		os.Remove(tempPath)
		writeError(w, http.StatusBadRequest, vErr.Code, vErr.Message)
		return
	}

	// Admission gate: atomic insert-if-absent-with-expiry, run before the
	// uploaded file is ever materialized at its canonical taskId-derived
	// path. A duplicate submission must never be able to touch the
	// already-admitted original's file, so the upload stays under its
	// temp name until this taskId is confirmed new.
	err := h.store.Create(ctx, rec, h.cfg.StoreTTL())
	if err == store.ErrAlreadyExists {
		os.Remove(tempPath)
		metrics.Admissions.WithLabelValues("duplicate").Inc()
		writeError(w, http.StatusConflict, model.CodeDuplicateTaskId, "a task with this taskId already exists")
		return
	}
	if err != nil {
		os.Remove(tempPath)
		metrics.Admissions.WithLabelValues("store_unavailable").Inc()
		slog.Error("store create failed", "error", err, "task_id", rec.TaskID)
		writeError(w, http.StatusInternalServerError, 0, "task store unavailable")
		return
	}

	if tempPath != "" {
		if err := os.Rename(tempPath, rec.ImagePath); err != nil {
			slog.Error("failed to finalize uploaded file, rolling back store record", "error", err, "task_id", rec.TaskID)
			_ = h.store.Delete(ctx, rec.TaskID)
			os.Remove(tempPath)
			writeError(w, http.StatusInternalServerError, 0, "failed to store uploaded file")
			return
		}
	}

	if err := h.queue.Push(ctx, rec.TaskID); err != nil {
		// Store write succeeded but the Queue push failed: roll back the
		// record so the client can retry the same taskId immediately
		// rather than waiting out the TTL.
		slog.Error("queue push failed, rolling back store record", "error", err, "task_id", rec.TaskID)
		_ = h.store.Delete(ctx, rec.TaskID)
		h.cleanupUpload(rec)
		metrics.Admissions.WithLabelValues("queue_unavailable").Inc()
		writeError(w, http.StatusInternalServerError, 0, "task queue unavailable")
		return
	}

	metrics.Admissions.WithLabelValues("accepted").Inc()
	slog.Info("task admitted", "event", "task_admitted", "task_id", rec.TaskID, "task_type", rec.TaskType)

	writeJSON(w, http.StatusAccepted, analyzeResponse{
		TaskID:      rec.TaskID,
		Status:      "QUEUED",
		SubmittedAt: rec.CreatedAt.Format(time.RFC3339),
		Metadata:    rec.Metadata,
	})
}

func (h *Handler) parseJSON(r *http.Request) (*model.TaskRecord, *validationError) {
	var req jsonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, newValidationErr("malformed JSON body: " + err.Error())
	}

	if vErr := validateJSON(&req); vErr != nil {
		return nil, vErr
	}

	return &model.TaskRecord{
		TaskID:      req.TaskID,
		TaskType:    req.TaskType,
		ImageURL:    req.ImageURL,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
		PatientInfo: req.PatientInfo,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// parseMultipart validates the multipart fields and writes the uploaded
// file to a random temp name under UploadDir. It returns the record
// (already carrying the canonical <taskId><ext> path it will occupy)
// alongside the temp path the bytes currently live at; the caller is
// responsible for renaming temp -> canonical only after the admission
// gate confirms the taskId is not a duplicate.
func (h *Handler) parseMultipart(r *http.Request) (*model.TaskRecord, string, *validationError) {
	if err := r.ParseMultipartForm(h.cfg.UploadMaxSizeBytes()); err != nil {
		return nil, "", newValidationErr("invalid multipart form or file too large: " + err.Error())
	}

	taskID := r.FormValue("taskId")
	taskType := r.FormValue("taskType")
	callbackURL := r.FormValue("callbackUrl")

	var patientInfo *model.PatientInfo
	if pi := r.FormValue("patientInfo"); pi != "" {
		patientInfo = &model.PatientInfo{}
		_ = json.Unmarshal([]byte(pi), patientInfo)
	}

	if vErr := validateMultipartFields(taskID, taskType, callbackURL, patientInfo); vErr != nil {
		return nil, "", vErr
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", newValidationErr("image file field is required")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if vErr := validateExtension(ext); vErr != nil {
		return nil, "", vErr
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return nil, "", newValidationErr("failed to prepare upload directory: " + err.Error())
	}

	dst, err := os.CreateTemp(h.cfg.UploadDir, "upload-*"+ext)
	if err != nil {
		return nil, "", newValidationErr("failed to save uploaded file: " + err.Error())
	}
	tempPath := dst.Name()
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(tempPath)
		return nil, "", newValidationErr("failed to save uploaded file: " + err.Error())
	}
	dst.Close()

	var metadata json.RawMessage
	if md := r.FormValue("metadata"); md != "" {
		metadata = json.RawMessage(md)
	}

	destPath := filepath.Join(h.cfg.UploadDir, taskID+ext)
	return &model.TaskRecord{
		TaskID:      taskID,
		TaskType:    model.TaskType(taskType),
		ImagePath:   destPath,
		CallbackURL: callbackURL,
		Metadata:    metadata,
		PatientInfo: patientInfo,
		CreatedAt:   time.Now().UTC(),
	}, tempPath, nil
}

// cleanupUpload removes a multipart-uploaded file if admission fails
// after it was already renamed to its canonical path on disk.
func (h *Handler) cleanupUpload(rec *model.TaskRecord) {
	if rec.ImagePath != "" {
		os.Remove(rec.ImagePath)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Code:    code,
		Error:   http.StatusText(status),
		Message: message,
	})
}
