package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot write outcomes.
const (
	SnapshotInserted  = "inserted"
	SnapshotUpdated   = "updated"
	SnapshotUnchanged = "unchanged"
	SnapshotSkipped   = "skipped_empty"
	SnapshotForced    = "recalculated"
)

// Metrics holds every collector the service exports. All Record methods
// are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	StoreOperations        *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	AggregationRuns     *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec
	SnapshotWrites      *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
}

func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
	m.StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of record store operations",
		},
		[]string{"collection", "operation", "status"},
	)
	m.StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Record store operation duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"collection", "operation"},
	)
	m.AggregationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_runs_total",
			Help:      "Total number of aggregation passes by operation and status",
		},
		[]string{"operation", "status"},
	)
	m.AggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Aggregation pass duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
	m.SnapshotWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monthly_snapshot_writes_total",
			Help:      "Monthly profit snapshot outcomes",
		},
		[]string{"outcome"},
	)
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperations,
		m.StoreOperationDuration,
		m.AggregationRuns,
		m.AggregationDuration,
		m.SnapshotWrites,
		m.CircuitBreakerState,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordStoreOperation(collection, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(collection, operation, status(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordAggregation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.AggregationRuns.WithLabelValues(operation, status(err)).Inc()
	m.AggregationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordSnapshotWrite(outcome string) {
	if m == nil {
		return
	}
	m.SnapshotWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
