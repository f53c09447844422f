// Package metrics provides Prometheus metrics for the pharmguard service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons recorded by RecordAnalysisFailure.
const (
	ReasonNoVariants = "no_target_variants"
	ReasonExtraction = "extraction_error"
	ReasonValidation = "validation_error"
	ReasonInternal   = "internal_error"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// Manager owns the service collectors and the registry they live on.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	analyses             *prometheus.CounterVec
	analysisFailures     *prometheus.CounterVec
	analysisDuration     prometheus.Histogram
	riskScore            prometheus.Histogram
	explanationFallbacks prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a Manager with its own registry unless WithRegistry is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "pharmguard",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.analyses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "analyses_total",
		Help:      "Completed analyses by drug and risk label",
	}, []string{"drug", "risk_label"})

	m.analysisFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "analysis_failures_total",
		Help:      "Rejected or failed analyses by reason",
	}, []string{"reason"})

	m.analysisDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "analysis_duration_milliseconds",
		Help:      "Pipeline duration per drug analysis in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})

	m.riskScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "risk_score",
		Help:      "Distribution of computed risk scores",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	m.explanationFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "explanation_fallbacks_total",
		Help:      "Explanations served by the template fallback after a service failure",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status code",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request latency in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	}, []string{"endpoint", "method"})
}

// RecordAnalysis records one completed drug analysis.
func (m *Manager) RecordAnalysis(drug, riskLabel string, score float64, d time.Duration) {
	m.analyses.WithLabelValues(drug, riskLabel).Inc()
	m.riskScore.Observe(score)
	m.analysisDuration.Observe(float64(d.Microseconds()) / 1000)
}

// RecordAnalysisFailure records a rejected or failed analysis.
func (m *Manager) RecordAnalysisFailure(reason string) {
	m.analysisFailures.WithLabelValues(reason).Inc()
}

// RecordExplanationFallback records one template fallback.
func (m *Manager) RecordExplanationFallback() {
	m.explanationFallbacks.Inc()
}

// RecordHTTPRequest records one HTTP request.
func (m *Manager) RecordHTTPRequest(endpoint, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method).Observe(float64(d.Microseconds()) / 1000)
}

// Registry returns the registry holding the collectors.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
