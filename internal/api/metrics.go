package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rateLimitRejected  *prometheus.CounterVec
	rateLimitErrors    *prometheus.CounterVec
	transformsTotal    *prometheus.CounterVec
	transformDuration  prometheus.Histogram
	backoffStepsTotal  prometheus.Counter
	outputBytesTotal   prometheus.Counter
	ceilingMissedTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formfit_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formfit_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formfit_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		rateLimitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formfit_api_rate_limit_errors_total",
			Help: "Rate limiter check failures; the request is allowed through.",
		}, []string{"route"}),
		transformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formfit_transforms_total",
			Help: "Total image transforms by outcome.",
		}, []string{"outcome"}),
		transformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formfit_transform_duration_seconds",
			Help:    "Resize and compress duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		backoffStepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formfit_transform_quality_backoff_steps_total",
			Help: "Total quality reduction steps taken to satisfy size ceilings.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formfit_transform_output_bytes_total",
			Help: "Total compressed output bytes produced.",
		}),
		ceilingMissedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formfit_transform_ceiling_missed_total",
			Help: "Transforms that hit the quality floor without meeting the size ceiling.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.rateLimitErrors,
		m.transformsTotal,
		m.transformDuration,
		m.backoffStepsTotal,
		m.outputBytesTotal,
		m.ceilingMissedTotal,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/upload"):
		return "/upload"
	case strings.HasPrefix(path, "/download"):
		return "/download"
	case strings.HasPrefix(path, "/usage"):
		return "/usage"
	case strings.HasPrefix(path, "/health"):
		return "/health"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
	default:
		return "/static"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
