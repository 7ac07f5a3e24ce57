// Package telemetry provides Prometheus metrics and an HTTP exposition
// server for the ingest daemon.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ingestd"

var (
	globalMetrics *Metrics
	once          sync.Once
)

var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the daemon. EventDuration and
// EventLastTime preserve the names and label shape of the original
// engine's telemetry_log function (event_duration_seconds/event_name,
// event_last_time/event_name) so existing dashboards keep working.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Event metrics, carried over verbatim from the original engine.
	EventDuration *prometheus.HistogramVec
	EventLastTime *prometheus.GaugeVec

	// Fleet metrics
	FleetSize          prometheus.Gauge
	FleetReady         prometheus.Gauge
	DeploymentsCreated prometheus.Counter
	DeploymentsDeleted prometheus.Counter

	// Reconciler metrics
	ReconcileErrors    *prometheus.CounterVec
	ReconcilePhase     *prometheus.GaugeVec
	StatusWriteThrottle prometheus.Counter

	// Import metrics
	ImportDuration *prometheus.HistogramVec
	ExtractsTotal  prometheus.Gauge
}

// New creates and registers all Prometheus metrics (singleton). Returns
// the same instance on subsequent calls.
func New() *Metrics {
	once.Do(func() {
		globalMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewWithRegistry creates metrics with a custom registry (for testing).
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = gatherer
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	m.EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_duration_seconds",
			Help:    "Duration of a named ingest event, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"event_name"},
	)

	m.EventLastTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_last_time",
			Help: "Unix timestamp of the last time a named event completed.",
		},
		[]string{"event_name"},
	)

	m.FleetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_databases_total",
			Help:      "Total number of databases known to the registry.",
		},
	)

	m.FleetReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_databases_ready",
			Help:      "Number of databases with map data ready to serve.",
		},
	)

	m.DeploymentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_created_total",
			Help:      "Total number of tile-service deployments created by the syncer.",
		},
	)

	m.DeploymentsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_deleted_total",
			Help:      "Total number of tile-service deployments removed by the syncer.",
		},
	)

	m.ReconcileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Total number of reconcile errors by phase.",
		},
		[]string{"phase"},
	)

	m.ReconcilePhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_phase",
			Help:      "Whether a database is currently in the given phase (1) or not (0).",
		},
		[]string{"database", "phase"},
	)

	m.StatusWriteThrottle = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_write_throttled_total",
			Help:      "Total number of registry status writes delayed by the rate limiter.",
		},
	)

	m.ImportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Duration of an imposm3 phase (read/write/rotate), in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"phase"},
	)

	m.ExtractsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extracts_total",
			Help:      "Number of extracts considered in the most recent import cycle.",
		},
	)

	reg.MustRegister(
		m.EventDuration,
		m.EventLastTime,
		m.FleetSize,
		m.FleetReady,
		m.DeploymentsCreated,
		m.DeploymentsDeleted,
		m.ReconcileErrors,
		m.ReconcilePhase,
		m.StatusWriteThrottle,
		m.ImportDuration,
		m.ExtractsTotal,
	)

	return m
}

// RecordEvent mirrors the original engine's telemetry_log: it observes
// the duration between start and end under event_name and stamps
// event_last_time with end's Unix timestamp.
func (m *Metrics) RecordEvent(eventName string, durationSeconds, endUnix float64) {
	m.EventDuration.WithLabelValues(eventName).Observe(durationSeconds)
	m.EventLastTime.WithLabelValues(eventName).Set(endUnix)
}

// RecordImportPhase records the duration of one imposm3 phase.
func (m *Metrics) RecordImportPhase(phase string, durationSeconds float64) {
	m.ImportDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// SetFleetCounts updates the fleet size gauges.
func (m *Metrics) SetFleetCounts(total, ready int) {
	m.FleetSize.Set(float64(total))
	m.FleetReady.Set(float64(ready))
}

// RecordDeploymentCreated increments the deployment-created counter.
func (m *Metrics) RecordDeploymentCreated() {
	m.DeploymentsCreated.Inc()
}

// RecordDeploymentDeleted increments the deployment-deleted counter.
func (m *Metrics) RecordDeploymentDeleted() {
	m.DeploymentsDeleted.Inc()
}

// RecordReconcileError increments the reconcile-error counter for phase.
func (m *Metrics) RecordReconcileError(phase string) {
	m.ReconcileErrors.WithLabelValues(phase).Inc()
}

// SetReconcilePhase marks database as currently in (or out of) phase.
func (m *Metrics) SetReconcilePhase(database, phase string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	m.ReconcilePhase.WithLabelValues(database, phase).Set(v)
}

// RecordStatusWriteThrottled increments the rate-limit-throttle counter.
func (m *Metrics) RecordStatusWriteThrottled() {
	m.StatusWriteThrottle.Inc()
}

// SetExtractsTotal updates the extracts-considered gauge.
func (m *Metrics) SetExtractsTotal(count int) {
	m.ExtractsTotal.Set(float64(count))
}

// Gatherer returns the Prometheus gatherer metrics were registered
// against, for wiring into promhttp.HandlerFor.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}
