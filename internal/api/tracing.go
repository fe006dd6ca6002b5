package api

import (
	"context"
	"net/http"

	"formfit/internal/domain"
	"formfit/internal/transform"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spanName := r.Method + " " + routeLabel(r.URL.Path)
		ctx, span := s.tracer.Start(r.Context(), spanName, trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", routeLabel(r.URL.Path)),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// startTransformSpan opens the child span covering decode, resize,
// normalization, and the quality backoff for a single upload.
func (s *Server) startTransformSpan(ctx context.Context, params domain.UploadParams) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "transform",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("formfit.target_width", params.Width),
			attribute.Int("formfit.target_height", params.Height),
			attribute.Float64("formfit.max_size_kb", params.MaxSizeKB),
			attribute.Int("formfit.initial_quality", params.Quality),
		),
	)
}

func endTransformSpan(span trace.Span, result transform.Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		span.End()
		return
	}
	span.SetAttributes(
		attribute.Int("formfit.final_quality", result.Quality),
		attribute.Float64("formfit.final_size_kb", result.SizeKB),
		attribute.Int("formfit.backoff_steps", result.BackoffSteps),
		attribute.Bool("formfit.ceiling_met", result.CeilingMet),
	)
	span.End()
}
