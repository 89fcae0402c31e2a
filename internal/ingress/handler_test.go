package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dentalfabric/xray-fabric/internal/config"
	"github.com/dentalfabric/xray-fabric/internal/queue"
	"github.com/dentalfabric/xray-fabric/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := store.NewWithClient(client)
	q := queue.New(client, time.Minute)

	cfg := &config.Config{
		UploadDir:   t.TempDir(),
		UploadMaxMB: 50,
		StoreTTLSec: 3600,
	}

	return NewHandler(cfg, s, q), s
}

func jsonBody(taskID, taskType, callbackURL string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"taskId":      taskID,
		"taskType":    taskType,
		"imageUrl":    "http://example.com/x.jpg",
		"callbackUrl": callbackURL,
	})
	return body
}

func TestAnalyzeJSONHappyPath(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze",
		bytes.NewReader(jsonBody("11111111-1111-4111-8111-111111111111", "panoramic", "http://cb.local/r")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Analyze(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", w.Code, w.Body.String())
	}

	var resp analyzeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID != "11111111-1111-4111-8111-111111111111" {
		t.Errorf("TaskID = %q", resp.TaskID)
	}
	if resp.Status != "QUEUED" {
		t.Errorf("Status = %q, want QUEUED", resp.Status)
	}
}

func TestAnalyzeDuplicateTaskIdRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	taskID := "22222222-2222-4222-8222-222222222222"

	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(jsonBody(taskID, "panoramic", "http://cb.local/r")))
	req1.Header.Set("Content-Type", "application/json")
	w1 := httptest.NewRecorder()
	h.Analyze(w1, req1)
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d, want 202", w1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(jsonBody(taskID, "panoramic", "http://cb.local/r")))
	req2.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	h.Analyze(w2, req2)
	if w2.Code != http.StatusConflict {
		t.Fatalf("second request status = %d, want 409", w2.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if int(resp["code"].(float64)) != 10002 {
		t.Errorf("code = %v, want 10002", resp["code"])
	}
}

func TestAnalyzeCephalometricMissingPatientInfoRejected(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze",
		bytes.NewReader(jsonBody("33333333-3333-4333-8333-333333333333", "cephalometric", "http://cb.local/r")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Analyze(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body=%s", w.Code, w.Body.String())
	}
}

func TestAnalyzeRejectsNonUUIDv4TaskId(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze",
		bytes.NewReader(jsonBody("not-a-uuid", "panoramic", "http://cb.local/r")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Analyze(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAnalyzeMultipartHappyPath(t *testing.T) {
	h, _ := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("taskId", "44444444-4444-4444-8444-444444444444")
	mw.WriteField("taskType", "panoramic")
	mw.WriteField("callbackUrl", "http://cb.local/r")
	fw, _ := mw.CreateFormFile("image", "scan.jpg")
	fw.Write([]byte("fake-jpeg-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	h.Analyze(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body=%s", w.Code, w.Body.String())
	}
}

func multipartUpload(taskID, filename string, fileBytes []byte) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("taskId", taskID)
	mw.WriteField("taskType", "panoramic")
	mw.WriteField("callbackUrl", "http://cb.local/r")
	fw, _ := mw.CreateFormFile("image", filename)
	fw.Write(fileBytes)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAnalyzeMultipartDuplicateDoesNotDeleteOriginalImage(t *testing.T) {
	h, s := newTestHandler(t)
	taskID := "66666666-6666-4666-8666-666666666666"

	body1, ct1 := multipartUpload(taskID, "scan.jpg", []byte("original-bytes"))
	req1 := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body1)
	req1.Header.Set("Content-Type", ct1)
	w1 := httptest.NewRecorder()
	h.Analyze(w1, req1)
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d, want 202; body=%s", w1.Code, w1.Body.String())
	}

	rec, err := s.Get(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := os.Stat(rec.ImagePath); err != nil {
		t.Fatalf("original image missing after admission: %v", err)
	}

	body2, ct2 := multipartUpload(taskID, "scan.jpg", []byte("duplicate-bytes"))
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body2)
	req2.Header.Set("Content-Type", ct2)
	w2 := httptest.NewRecorder()
	h.Analyze(w2, req2)
	if w2.Code != http.StatusConflict {
		t.Fatalf("second request status = %d, want 409; body=%s", w2.Code, w2.Body.String())
	}

	if _, err := os.Stat(rec.ImagePath); err != nil {
		t.Fatalf("original image deleted by duplicate submission: %v", err)
	}
}

func TestAnalyzeMultipartRejectsBadExtension(t *testing.T) {
	h, _ := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("taskId", "55555555-5555-4555-8555-555555555555")
	mw.WriteField("taskType", "panoramic")
	mw.WriteField("callbackUrl", "http://cb.local/r")
	fw, _ := mw.CreateFormFile("image", "scan.exe")
	fw.Write([]byte("not-an-image"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	h.Analyze(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
