package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Cloudwarden.
type Metrics struct {
	config MetricsConfig

	// Lifecycle metrics
	lifecycleOps      *prometheus.CounterVec
	lifecycleDuration *prometheus.HistogramVec

	// Transport metrics
	transportCalls    *prometheus.CounterVec
	transportDuration *prometheus.HistogramVec

	// Retry and readiness metrics
	conflictRetries *prometheus.CounterVec
	readinessChecks *prometheus.CounterVec

	// Secret metrics
	secretsGenerated *prometheus.CounterVec
	secretsRemoved   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Adoption metrics
	adoptions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		lifecycleOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_operations_total",
				Help:      "Total number of entity lifecycle operations",
			},
			[]string{"kind", "operation", "outcome"},
		),
		lifecycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lifecycle_operation_duration_seconds",
				Help:      "Duration of entity lifecycle operations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "operation"},
		),
		transportCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_calls_total",
				Help:      "Total number of provider API calls",
			},
			[]string{"method", "status_class"},
		),
		transportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transport_call_duration_seconds",
				Help:      "Duration of provider API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		conflictRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_retries_total",
				Help:      "Total number of conflict retry sleeps",
			},
			[]string{"kind", "operation"},
		),
		readinessChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readiness_checks_total",
				Help:      "Total number of readiness checks",
			},
			[]string{"kind", "result"},
		),
		secretsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secrets_generated_total",
				Help:      "Total number of secrets generated by entities",
			},
			[]string{"kind"},
		),
		secretsRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "secrets_removed_total",
				Help:      "Total number of owned secrets removed on delete",
			},
			[]string{"kind", "outcome"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of lifecycle errors by class",
			},
			[]string{"class"},
		),
		adoptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adoptions_total",
				Help:      "Total number of pre-existing resources adopted",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.lifecycleOps,
		m.lifecycleDuration,
		m.transportCalls,
		m.transportDuration,
		m.conflictRetries,
		m.readinessChecks,
		m.secretsGenerated,
		m.secretsRemoved,
		m.errorsByClass,
		m.adoptions,
	)

	return m, nil
}

// RecordLifecycleOp records a completed lifecycle operation.
func (m *Metrics) RecordLifecycleOp(kind, operation, outcome string, duration time.Duration) {
	if m.lifecycleOps == nil {
		return
	}
	m.lifecycleOps.WithLabelValues(kind, operation, outcome).Inc()
	m.lifecycleDuration.WithLabelValues(kind, operation).Observe(duration.Seconds())
}

// RecordTransportCall records a provider API call.
func (m *Metrics) RecordTransportCall(method string, statusCode int, duration time.Duration) {
	if m.transportCalls == nil {
		return
	}
	m.transportCalls.WithLabelValues(method, statusClass(statusCode)).Inc()
	m.transportDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordConflictRetry records one conflict retry sleep.
func (m *Metrics) RecordConflictRetry(kind, operation string) {
	if m.conflictRetries == nil {
		return
	}
	m.conflictRetries.WithLabelValues(kind, operation).Inc()
}

// RecordReadinessCheck records a readiness check result.
func (m *Metrics) RecordReadinessCheck(kind string, ready bool) {
	if m.readinessChecks == nil {
		return
	}
	result := "pending"
	if ready {
		result = "ready"
	}
	m.readinessChecks.WithLabelValues(kind, result).Inc()
}

// RecordSecretGenerated records a generated secret.
func (m *Metrics) RecordSecretGenerated(kind string) {
	if m.secretsGenerated == nil {
		return
	}
	m.secretsGenerated.WithLabelValues(kind).Inc()
}

// RecordSecretRemoved records an owned-secret removal attempt.
func (m *Metrics) RecordSecretRemoved(kind, outcome string) {
	if m.secretsRemoved == nil {
		return
	}
	m.secretsRemoved.WithLabelValues(kind, outcome).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordAdoption records the adoption of a pre-existing resource.
func (m *Metrics) RecordAdoption(kind string) {
	if m.adoptions == nil {
		return
	}
	m.adoptions.WithLabelValues(kind).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks until the server stops.
func (m *Metrics) Serve() error {
	if !m.config.Enabled {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}

// statusClass buckets an HTTP status code into 2xx/3xx/4xx/5xx.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return fmt.Sprintf("%d", code)
	}
}
