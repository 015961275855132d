package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	syncRuns      *prometheus.CounterVec // total syncs
	syncDuration  prometheus.Histogram   // time to sync
	unitRuns      *prometheus.CounterVec // reconciliation passes per unit
	operations    *prometheus.CounterVec // reconcile decisions
	apiRequests   *prometheus.CounterVec // cloudflare api requests
	managedIDs    *prometheus.GaugeVec   // ids tracked per unit
	stateRequests *prometheus.CounterVec // state store requests
}

// Public interface for metrics operations
func (m *Metrics) IncSyncRun(success bool) {
	status := boolToResult(success)
	m.syncRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) SetSyncDuration(duration time.Duration) {
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncUnitRun(unit string, success bool) {
	if unit == "" {
		return
	}
	m.unitRuns.WithLabelValues(unit, boolToResult(success)).Inc()
}

func (m *Metrics) IncOperation(unit, operation string) {
	if !isValidOperation(operation) || unit == "" {
		return
	}
	m.operations.WithLabelValues(unit, operation).Inc()
}

func (m *Metrics) IncAPIRequest(resource, operation string, success bool) {
	if !isValidOperation(operation) || resource == "" {
		return
	}
	status := boolToResult(success)
	m.apiRequests.WithLabelValues(resource, operation, status).Inc()
}

func (m *Metrics) SetManagedIDs(unit string, count int) {
	if unit == "" {
		return
	}
	m.managedIDs.WithLabelValues(unit).Set(float64(count))
}

func (m *Metrics) IncStateRequest(backend, operation string, success bool) {
	if !isValidOperation(operation) {
		return
	}
	status := boolToResult(success)
	m.stateRequests.WithLabelValues(backend, operation, status).Inc()
}

// Validation helpers
func boolToResult(b bool) string {
	if b {
		return "success"
	}
	return "failure"
}

func isValidOperation(op string) bool {
	switch op {
	case "create", "read", "update", "delete", "unchanged", "activate":
		return true
	}
	return false
}

func New(register bool) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "cf_edge_sync"

	m := &Metrics{
		registry: registry,

		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of synchronization runs",
		}, []string{"status"}),

		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of synchronization runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		unitRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_runs_total",
			Help:      "Total reconciliation passes per unit",
		}, []string{"unit", "status"}),

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total reconcile operations decided per unit",
		}, []string{"unit", "operation"}),

		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total cloudflare api requests",
		}, []string{"resource", "operation", "status"}),

		managedIDs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed_ids_current",
			Help:      "Remote ids currently tracked per unit",
		}, []string{"unit"}),

		stateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_requests_total",
			Help:      "Total state store requests",
		}, []string{"backend", "operation", "status"}),
	}

	if register {
		registry.MustRegister(
			m.syncRuns,
			m.syncDuration,
			m.unitRuns,
			m.operations,
			m.apiRequests,
			m.managedIDs,
			m.stateRequests,
		)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
