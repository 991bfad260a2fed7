package migration

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus metrics for lifecycle operations.
type Metrics struct {
	registry *prometheus.Registry

	Operations   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	BackupBytes  prometheus.Counter
}

// NewMetrics creates and registers lifecycle metrics under the given
// namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Per-step migration script duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"direction"}),
		BackupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_bytes_total",
			Help:      "Total bytes written to backup storage.",
		}),
	}

	reg.MustRegister(m.Operations, m.StepDuration, m.BackupBytes)
	return m
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeStep(direction string, start time.Time) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
}

func (m *Metrics) countOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) addBackupBytes(n int64) {
	if m == nil {
		return
	}
	m.BackupBytes.Add(float64(n))
}
