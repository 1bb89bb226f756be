package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for the C2 server. A nil *Metrics or a
// disabled one ignores every call.
type Metrics struct {
	config MetricsConfig

	// Protocol metrics
	heartbeatsReceived prometheus.Counter
	heartbeatDuration  prometheus.Histogram
	acksReceived       *prometheus.CounterVec
	operationsDeployed prometheus.Counter
	reconcileFailures  *prometheus.CounterVec
	entitiesRegistered *prometheus.CounterVec

	// Store metrics
	storeCalls    *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		heartbeatsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_received_total",
				Help:      "Total number of heartbeats processed",
			},
		),
		heartbeatDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "heartbeat_duration_seconds",
				Help:      "Duration of heartbeat processing in seconds",
				Buckets:   buckets,
			},
		),
		acksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_acks_total",
				Help:      "Total number of operation acknowledgements by outcome",
			},
			[]string{"result"},
		),
		operationsDeployed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_deployed_total",
				Help:      "Total number of operations handed to agents",
			},
		),
		reconcileFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_failures_total",
				Help:      "Total number of absorbed heartbeat reconciliation failures",
			},
			[]string{"step"},
		),
		entitiesRegistered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_registered_total",
				Help:      "Total number of inventory records created from heartbeats",
			},
			[]string{"kind"},
		),

		storeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_calls_total",
				Help:      "Total number of fleet store calls",
			},
			[]string{"kind", "operation"},
		),
		storeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_call_duration_seconds",
				Help:      "Duration of fleet store calls in seconds, lock wait included",
				Buckets:   buckets,
			},
			[]string{"kind", "operation"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of failed fleet store calls by error class",
			},
			[]string{"kind", "operation", "class"},
		),
	}

	registry.MustRegister(
		m.heartbeatsReceived,
		m.heartbeatDuration,
		m.acksReceived,
		m.operationsDeployed,
		m.reconcileFailures,
		m.entitiesRegistered,
		m.storeCalls,
		m.storeDuration,
		m.storeErrors,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordHeartbeat records one processed heartbeat.
func (m *Metrics) RecordHeartbeat(duration time.Duration, deployed int) {
	if !m.enabled() {
		return
	}
	m.heartbeatsReceived.Inc()
	m.heartbeatDuration.Observe(duration.Seconds())
	m.operationsDeployed.Add(float64(deployed))
}

// RecordAck records one operation acknowledgement.
func (m *Metrics) RecordAck(result string) {
	if !m.enabled() {
		return
	}
	m.acksReceived.WithLabelValues(result).Inc()
}

// RecordReconcileFailure records an absorbed failure in a heartbeat step.
func (m *Metrics) RecordReconcileFailure(step string) {
	if !m.enabled() {
		return
	}
	m.reconcileFailures.WithLabelValues(step).Inc()
}

// RecordRegistration records a newly created inventory record.
func (m *Metrics) RecordRegistration(kind string) {
	if !m.enabled() {
		return
	}
	m.entitiesRegistered.WithLabelValues(kind).Inc()
}

// RecordStoreCall records a fleet store call with its duration and error class.
func (m *Metrics) RecordStoreCall(kind, operation string, duration time.Duration, errClass string) {
	if !m.enabled() {
		return
	}
	m.storeCalls.WithLabelValues(kind, operation).Inc()
	m.storeDuration.WithLabelValues(kind, operation).Observe(duration.Seconds())
	if errClass != "" {
		m.storeErrors.WithLabelValues(kind, operation, errClass).Inc()
	}
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. The returned
// server is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) *http.Server {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server error")
		}
	}()

	return server
}
