package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProvisionMetrics records archive provisioning task observations.
// A nil *ProvisionMetrics records nothing.
type ProvisionMetrics struct {
	tasks        *prometheus.CounterVec
	bytesFetched prometheus.Counter
	taskSeconds  prometheus.Histogram
}

var (
	provisionOnce sync.Once
	provision     *ProvisionMetrics
)

// NewProvisionMetrics returns the Prometheus-backed ProvisionMetrics
// instance. Every provisioning task shares the same collectors, so the
// instance is created once and cached. Returns nil if metrics are not
// enabled (InitRegistry not called).
func NewProvisionMetrics() *ProvisionMetrics {
	if !IsEnabled() {
		return nil
	}
	provisionOnce.Do(func() {
		provision = newProvisionMetrics(GetRegistry())
	})
	return provision
}

func newProvisionMetrics(reg *prometheus.Registry) *ProvisionMetrics {
	return &ProvisionMetrics{
		tasks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudman_provision_tasks_total",
				Help: "Completed provisioning tasks by result (success, checksum_mismatch, fetch_error, extract_error)",
			},
			[]string{"result"},
		),
		bytesFetched: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cloudman_provision_bytes_fetched_total",
				Help: "Total archive bytes downloaded by provisioning tasks",
			},
		),
		taskSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cloudman_provision_task_seconds",
				Help:    "End-to-end provisioning task duration",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
			},
		),
	}
}

// RecordTask counts a finished task with its result and duration.
func (m *ProvisionMetrics) RecordTask(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
	m.taskSeconds.Observe(d.Seconds())
}

// RecordBytesFetched counts downloaded archive bytes.
func (m *ProvisionMetrics) RecordBytesFetched(n int64) {
	if m == nil {
		return
	}
	m.bytesFetched.Add(float64(n))
}
