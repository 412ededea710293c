// Package metrics provides the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/deepfake-detector/internal/apperror"
)

// Metrics groups every collector the service records. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	InferenceDuration *prometheus.HistogramVec
	InferenceTotal    *prometheus.CounterVec
	InferenceInFlight prometheus.Gauge
	ModelLoaded       prometheus.Gauge

	UploadsTotal    *prometheus.CounterVec
	DetectionsTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InferenceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deepfake_inference_duration_seconds",
			Help:    "Decode, preprocessing and forward pass time per image.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"prediction"}),
		InferenceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepfake_inference_total",
			Help: "Inference attempts partitioned by outcome.",
		}, []string{"status"}),
		InferenceInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deepfake_inference_in_flight",
			Help: "Detections currently holding a worker slot.",
		}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deepfake_model_loaded",
			Help: "Whether the classifier is loaded (1) or not (0).",
		}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepfake_uploads_total",
			Help: "Upload attempts partitioned by outcome.",
		}, []string{"status"}),
		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepfake_detections_total",
			Help: "Persisted detections partitioned by prediction.",
		}, []string{"prediction"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepfake_http_requests_total",
			Help: "HTTP requests partitioned by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deepfake_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordInference records one detection attempt.
func (m *Metrics) RecordInference(prediction string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.InferenceTotal.WithLabelValues(errorStatus(err)).Inc()
		return
	}
	m.InferenceTotal.WithLabelValues("success").Inc()
	m.InferenceDuration.WithLabelValues(prediction).Observe(elapsed.Seconds())
}

// InFlight adjusts the in-flight gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.InferenceInFlight.Add(delta)
}

// SetModelLoaded flips the model gauge.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if m == nil {
		return
	}
	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

// RecordUpload records the outcome of an upload and, on success, its verdict.
func (m *Metrics) RecordUpload(prediction string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.UploadsTotal.WithLabelValues(errorStatus(err)).Inc()
		return
	}
	m.UploadsTotal.WithLabelValues("success").Inc()
	m.DetectionsTotal.WithLabelValues(prediction).Inc()
}

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, apperror.ErrInferenceTimeout):
		return "timeout"
	case errors.Is(err, apperror.ErrValidation):
		return "invalid"
	case errors.Is(err, apperror.ErrInference):
		return "inference_error"
	case errors.Is(err, apperror.ErrIO):
		return "io_error"
	case errors.Is(err, apperror.ErrPersistence):
		return "persistence_error"
	case errors.Is(err, apperror.ErrUnavailable):
		return "unavailable"
	}
	return "error"
}
