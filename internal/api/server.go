package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formfit/internal/config"
	"formfit/internal/domain"
	"formfit/internal/id"
	"formfit/internal/store"
	"formfit/internal/transform"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	cfg                   config.UploadConfig
	staticDir             string
	transformer           transform.Transformer
	usageStore            store.UsageStore
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(
	logger *log.Logger,
	cfg config.UploadConfig,
	staticDir string,
	transformer transform.Transformer,
	usageStore store.UsageStore,
	rateLimiter RateLimiter,
	rateLimitUserIDHeader string,
) *Server {
	s := &Server{
		logger:                logger,
		cfg:                   cfg,
		staticDir:             staticDir,
		transformer:           transformer,
		usageStore:            usageStore,
		rateLimiter:           rateLimiter,
		rateLimitUserIDHeader: rateLimitUserIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("formfit/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withRateLimit(s.withTracing(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("POST /download", s.handleDownload)
	s.mux.HandleFunc("GET /usage/recent", s.handleRecentUsage)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	if s.staticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "formfit API is running",
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Limits.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.cfg.Limits.MaxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusBadRequest, fmt.Sprintf(
				"File is too large. Maximum upload size is %d MB.",
				s.cfg.Limits.MaxUploadBytes>>20,
			))
			return
		}
		writeError(w, http.StatusBadRequest, "No image file was uploaded. Please select an image.")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file was uploaded. Please select an image.")
		return
	}
	defer file.Close()

	if strings.TrimSpace(header.Filename) == "" {
		writeError(w, http.StatusBadRequest, "No file selected. Please choose an image file.")
		return
	}
	if !domain.AllowedFile(header.Filename, s.cfg.Limits.AllowedExtensions) {
		writeError(w, http.StatusBadRequest, "Invalid file type. Only JPG, JPEG, and PNG files are allowed.")
		return
	}

	params, err := s.parseUploadParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input values. Please enter valid numbers.")
		return
	}
	if err := params.Validate(s.cfg.Limits); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		s.logger.Printf("read upload failed filename=%s err=%v", header.Filename, err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred. Please try again.")
		return
	}
	originalKB := roundKB(float64(len(raw)) / 1024)

	startedAt := time.Now()
	spanCtx, span := s.startTransformSpan(r.Context(), params)
	result, err := s.transformer.Transform(spanCtx, raw, transform.Request{
		Width:     params.Width,
		Height:    params.Height,
		MaxSizeKB: params.MaxSizeKB,
		Quality:   params.Quality,
	})
	endTransformSpan(span, result, err)
	if err != nil {
		s.metrics.transformsTotal.WithLabelValues("error").Inc()
		s.logger.Printf("transform failed filename=%s err=%v", header.Filename, err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %v", err))
		return
	}

	s.observeTransform(result, time.Since(startedAt))
	s.recordUsage(r.Context(), params, result, originalKB, time.Since(startedAt))

	message := fmt.Sprintf("Image processed successfully! Final size: %.2f KB.", result.SizeKB)
	if result.Quality < params.Quality {
		message += fmt.Sprintf(
			" Quality was auto-adjusted from %d%% to %d%% to meet the file size requirement.",
			params.Quality, result.Quality,
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"image":          "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(result.Data),
		"originalWidth":  result.OriginalWidth,
		"originalHeight": result.OriginalHeight,
		"originalSize":   originalKB,
		"newWidth":       result.Width,
		"newHeight":      result.Height,
		"finalQuality":   result.Quality,
		"finalSize":      result.SizeKB,
		"ceilingMet":     result.CeilingMet,
		"message":        message,
	})
}

func (s *Server) parseUploadParams(r *http.Request) (domain.UploadParams, error) {
	width, err := formInt(r, "width", s.cfg.DefaultWidth)
	if err != nil {
		return domain.UploadParams{}, err
	}
	height, err := formInt(r, "height", s.cfg.DefaultHeight)
	if err != nil {
		return domain.UploadParams{}, err
	}
	maxSizeKB, err := formFloat(r, "maxSize", s.cfg.DefaultMaxSizeKB)
	if err != nil {
		return domain.UploadParams{}, err
	}
	quality, err := formInt(r, "quality", s.cfg.DefaultQuality)
	if err != nil {
		return domain.UploadParams{}, err
	}

	return domain.UploadParams{
		Width:     width,
		Height:    height,
		MaxSizeKB: maxSizeKB,
		Quality:   quality,
	}, nil
}

func (s *Server) handleRecentUsage(w http.ResponseWriter, r *http.Request) {
	if s.usageStore == nil {
		writeJSON(w, http.StatusOK, map[string]any{"transforms": []domain.TransformLog{}})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "Invalid input values. Please enter valid numbers.")
			return
		}
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}

	entries, err := s.usageStore.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Printf("usage log read failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred. Please try again.")
		return
	}
	if entries == nil {
		entries = []domain.TransformLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transforms": entries})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req domain.DownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "No data received")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		writeError(w, http.StatusBadRequest, "No image data provided")
		return
	}

	payload := req.Image
	if idx := strings.IndexByte(payload, ','); idx >= 0 {
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image data")
		return
	}

	filename := sanitizeFilename(req.Filename)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Printf("download write failed filename=%s err=%v", filename, err)
	}
}

func (s *Server) observeTransform(result transform.Result, elapsed time.Duration) {
	s.metrics.transformsTotal.WithLabelValues("success").Inc()
	s.metrics.transformDuration.Observe(elapsed.Seconds())
	s.metrics.outputBytesTotal.Add(float64(len(result.Data)))
	if result.BackoffSteps > 0 {
		s.metrics.backoffStepsTotal.Add(float64(result.BackoffSteps))
	}
	if !result.CeilingMet {
		s.metrics.ceilingMissedTotal.Inc()
	}
}

func (s *Server) recordUsage(ctx context.Context, params domain.UploadParams, result transform.Result, originalKB float64, elapsed time.Duration) {
	if s.usageStore == nil {
		return
	}

	entry := domain.TransformLog{
		ID:             id.New(),
		SourceFormat:   result.SourceFormat,
		OriginalWidth:  result.OriginalWidth,
		OriginalHeight: result.OriginalHeight,
		Width:          result.Width,
		Height:         result.Height,
		OriginalKB:     originalKB,
		FinalKB:        result.SizeKB,
		InitialQuality: params.Quality,
		FinalQuality:   result.Quality,
		CeilingMet:     result.CeilingMet,
		DurationMS:     max(1, elapsed.Milliseconds()),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.usageStore.RecordTransform(ctx, entry); err != nil {
		s.logger.Printf("usage log write failed id=%s err=%v", entry.ID, err)
	}
}

func formInt(r *http.Request, key string, fallback int) (int, error) {
	value := strings.TrimSpace(r.FormValue(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse form field %s: %w", key, err)
	}
	return parsed, nil
}

func formFloat(r *http.Request, key string, fallback float64) (float64, error) {
	value := strings.TrimSpace(r.FormValue(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse form field %s: %w", key, err)
	}
	return parsed, nil
}

func sanitizeFilename(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "resized_image.jpg"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "resized_image.jpg"
	}
	return out
}

func roundKB(kb float64) float64 {
	return float64(int(kb*100+0.5)) / 100
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 32 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
