package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"formfit/internal/config"
	"formfit/internal/domain"
	"formfit/internal/store"
	"formfit/internal/transform"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryUsageStore) {
	t.Helper()
	return newTestServerWithLimiter(t, nil)
}

func newTestServerWithLimiter(t *testing.T, limiter RateLimiter) (*Server, *store.MemoryUsageStore) {
	t.Helper()

	transformer, err := transform.New()
	if err != nil {
		t.Fatalf("build transformer: %v", err)
	}

	usage := store.NewMemoryUsageStore()
	cfg := config.UploadConfig{
		Limits:           domain.DefaultLimits(),
		DefaultWidth:     200,
		DefaultHeight:    200,
		DefaultMaxSizeKB: 50,
		DefaultQuality:   80,
	}
	logger := log.New(io.Discard, "", 0)

	return NewServer(logger, cfg, "", transformer, usage, limiter, "X-User-ID"), usage
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy status, got %v", body["status"])
	}
}

func TestHandleUploadSuccess(t *testing.T) {
	s, usage := newTestServer(t)

	req := multipartUpload(t, "photo.png", buildTestPNG(t, 240, 120), map[string]string{
		"width":   "120",
		"height":  "90",
		"maxSize": "500",
		"quality": "80",
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}

	dataURL, _ := body["image"].(string)
	if !strings.HasPrefix(dataURL, "data:image/jpeg;base64,") {
		t.Fatalf("expected jpeg data URL, got %.40s", dataURL)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, "data:image/jpeg;base64,"))
	if err != nil {
		t.Fatalf("decode data URL payload: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode output image: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg output, got %s", format)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 90 {
		t.Fatalf("expected 120x90 output, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}

	if body["originalWidth"].(float64) != 240 || body["originalHeight"].(float64) != 120 {
		t.Fatalf("expected original 240x120 in response, got %v x %v",
			body["originalWidth"], body["originalHeight"])
	}
	if body["newWidth"].(float64) != 120 || body["newHeight"].(float64) != 90 {
		t.Fatalf("expected new 120x90 in response, got %v x %v", body["newWidth"], body["newHeight"])
	}
	if quality := body["finalQuality"].(float64); quality > 80 {
		t.Fatalf("final quality %v must not exceed the requested 80", quality)
	}
	if _, ok := body["ceilingMet"].(bool); !ok {
		t.Fatalf("expected explicit ceilingMet flag, got %v", body["ceilingMet"])
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "Image processed successfully!") {
		t.Fatalf("unexpected message: %q", msg)
	}

	logs, err := usage.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("read usage logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(logs))
	}
	if logs[0].Width != 120 || logs[0].Height != 90 || logs[0].InitialQuality != 80 {
		t.Fatalf("unexpected usage record: %+v", logs[0])
	}
}

func TestHandleUploadDefaults(t *testing.T) {
	s, _ := newTestServer(t)

	req := multipartUpload(t, "photo.png", buildTestPNG(t, 100, 100), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["newWidth"].(float64) != 200 || body["newHeight"].(float64) != 200 {
		t.Fatalf("expected default 200x200 output, got %v x %v", body["newWidth"], body["newHeight"])
	}
}

func TestHandleUploadValidation(t *testing.T) {
	s, _ := newTestServer(t)
	png100 := buildTestPNG(t, 100, 100)

	cases := []struct {
		name       string
		filename   string
		fields     map[string]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "zero width rejected before the core runs",
			filename:   "photo.png",
			fields:     map[string]string{"width": "0"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Width and height must be positive numbers.",
		},
		{
			name:       "oversized dimension",
			filename:   "photo.png",
			fields:     map[string]string{"width": "5001"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Width and height cannot exceed 5000 pixels.",
		},
		{
			name:       "max size just over the cap",
			filename:   "photo.png",
			fields:     map[string]string{"maxSize": "10240.01"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Maximum file size cannot exceed 10240 KB (10 MB).",
		},
		{
			name:       "max size at the cap is accepted",
			filename:   "photo.png",
			fields:     map[string]string{"maxSize": "10240"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "quality out of range",
			filename:   "photo.png",
			fields:     map[string]string{"quality": "101"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Quality must be between 1 and 100.",
		},
		{
			name:       "non-numeric input",
			filename:   "photo.png",
			fields:     map[string]string{"width": "abc"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid input values. Please enter valid numbers.",
		},
		{
			name:       "disallowed extension",
			filename:   "photo.gif",
			fields:     nil,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid file type. Only JPG, JPEG, and PNG files are allowed.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := multipartUpload(t, tc.filename, png100, tc.fields)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantError != "" {
				body := decodeBody(t, rec)
				if body["success"] != false {
					t.Fatalf("expected success=false, got %v", body)
				}
				if body["error"] != tc.wantError {
					t.Fatalf("expected error %q, got %q", tc.wantError, body["error"])
				}
			}
		})
	}
}

func TestHandleUploadMissingFile(t *testing.T) {
	s, _ := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("width", "200")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "No image file was uploaded. Please select an image." {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestHandleUploadOverCap(t *testing.T) {
	transformer, err := transform.New()
	if err != nil {
		t.Fatalf("build transformer: %v", err)
	}

	cfg := config.UploadConfig{
		Limits: domain.Limits{
			MaxDimension:      5000,
			MaxSizeKB:         10240,
			MaxUploadBytes:    1 << 10,
			AllowedExtensions: []string{"jpg", "jpeg", "png"},
		},
		DefaultWidth:     200,
		DefaultHeight:    200,
		DefaultMaxSizeKB: 50,
		DefaultQuality:   80,
	}
	s := NewServer(log.New(io.Discard, "", 0), cfg, "", transformer, nil, nil, "X-User-ID")

	req := multipartUpload(t, "photo.png", buildTestPNG(t, 512, 512), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized upload, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "too large") {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestHandleDownload(t *testing.T) {
	s, _ := newTestServer(t)

	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02, 0x03}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)

	body, _ := json.Marshal(domain.DownloadRequest{Image: dataURL, Filename: "my photo.jpg"})
	req := httptest.NewRequest(http.MethodPost, "/download", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", got)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "attachment") || !strings.Contains(disposition, "my_photo.jpg") {
		t.Fatalf("unexpected disposition: %s", disposition)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Fatal("download bytes do not match the uploaded payload")
	}
}

func TestHandleDownloadErrors(t *testing.T) {
	s, _ := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := post("{invalid"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rec.Code)
	}

	rec := post(`{"image":"","filename":"x.jpg"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty image, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "No image data provided" {
		t.Fatalf("unexpected error message: %v", body["error"])
	}

	rec = post(`{"image":"data:image/jpeg;base64,!!!","filename":"x.jpg"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad base64, got %d", rec.Code)
	}
}

func TestHandleRecentUsage(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/recent", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if entries, ok := body["transforms"].([]any); !ok || len(entries) != 0 {
		t.Fatalf("expected empty transforms list, got %v", body["transforms"])
	}

	upload := multipartUpload(t, "photo.png", buildTestPNG(t, 240, 120), map[string]string{
		"maxSize": "500",
	})
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, upload)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/recent?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body = decodeBody(t, rec)
	entries, ok := body["transforms"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected 1 transform entry, got %v", body["transforms"])
	}
	entry, ok := entries[0].(map[string]any)
	if !ok {
		t.Fatalf("expected object entry, got %T", entries[0])
	}
	if entry["sourceFormat"] != "png" {
		t.Fatalf("expected png source, got %v", entry["sourceFormat"])
	}
	if entry["width"] != float64(200) || entry["height"] != float64(200) {
		t.Fatalf("expected 200x200 target in entry, got %vx%v", entry["width"], entry["height"])
	}
}

func TestHandleRecentUsageBadLimit(t *testing.T) {
	s, _ := newTestServer(t)

	for _, limit := range []string{"abc", "0", "-3"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/usage/recent?limit="+limit, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d", limit, rec.Code)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "resized_image.jpg"},
		{"   ", "resized_image.jpg"},
		{"photo.jpg", "photo.jpg"},
		{"my photo.jpg", "my_photo.jpg"},
		{"..", "resized_image.jpg"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := sanitizeFilename("../../etc/passwd"); strings.ContainsAny(got, "/\\") {
		t.Fatalf("sanitized filename still contains path separators: %q", got)
	}
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write form field %s: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v (%s)", err, rec.Body.String())
	}
	return body
}
