package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the vault
type Metrics struct {
	// Credential operations
	CredentialOpsTotal *prometheus.CounterVec

	// Refresh coordination
	RefreshAttemptsTotal *prometheus.CounterVec
	LockAcquiresTotal    *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
	SweepRefreshedTotal  prometheus.Counter

	// Audit log
	AuditWritesTotal *prometheus.CounterVec

	// Gauges
	ActiveCredentials *prometheus.GaugeVec
	AuditEntriesTotal prometheus.Gauge

	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Database query metrics
	DatabaseQueryErrorsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag.
// Uses sync.Once so Prometheus metrics are only registered once.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		CredentialOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_credential_operations_total",
				Help: "Credential operations by type and result",
			},
			[]string{"operation", "result"},
		),
		RefreshAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_refresh_attempts_total",
				Help: "Provider refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		LockAcquiresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_lock_acquires_total",
				Help: "Per-identity lock acquisition attempts by result",
			},
			[]string{"result"},
		),
		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vault_sweep_duration_seconds",
				Help:    "Duration of refresh sweep cycles",
				Buckets: prometheus.DefBuckets,
			},
		),
		SweepRefreshedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vault_sweep_refreshed_total",
				Help: "Credentials rotated by sweep cycles",
			},
		),
		AuditWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_audit_writes_total",
				Help: "Audit log writes by result",
			},
			[]string{"result"},
		),
		ActiveCredentials: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vault_active_credentials",
				Help: "Active credential records by provider",
			},
			[]string{"provider"},
		),
		AuditEntriesTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_audit_entries",
				Help: "Total audit entries stored",
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_http_requests_total",
				Help: "HTTP requests by method, path and status",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_http_request_duration_seconds",
				Help:    "HTTP request duration by method and path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vault_http_requests_in_flight",
				Help: "HTTP requests currently being served",
			},
		),
		DatabaseQueryErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_database_query_errors_total",
				Help: "Database query errors by operation",
			},
			[]string{"operation"},
		),
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *Metrics) RecordCredentialOp(op string, success bool) {
	m.CredentialOpsTotal.WithLabelValues(op, resultLabel(success)).Inc()
}

func (m *Metrics) RecordRefreshAttempt(outcome string) {
	m.RefreshAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLockAcquire(acquired bool) {
	result := "acquired"
	if !acquired {
		result = "contended"
	}
	m.LockAcquiresTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSweep(duration time.Duration, refreshed int) {
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepRefreshedTotal.Add(float64(refreshed))
}

func (m *Metrics) RecordAuditWrite(success bool) {
	m.AuditWritesTotal.WithLabelValues(resultLabel(success)).Inc()
}

func (m *Metrics) SetActiveCredentials(provider string, count int) {
	m.ActiveCredentials.WithLabelValues(provider).Set(float64(count))
}

func (m *Metrics) SetAuditEntriesTotal(count int) {
	m.AuditEntriesTotal.Set(float64(count))
}

func (m *Metrics) RecordDatabaseQueryError(operation string) {
	m.DatabaseQueryErrorsTotal.WithLabelValues(operation).Inc()
}

// recordHTTPRequest is used by the middleware below.
func (m *Metrics) recordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
