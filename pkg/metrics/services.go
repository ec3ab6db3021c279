package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceMetrics records service lifecycle and reconciliation observations.
//
// A nil *ServiceMetrics is valid and records nothing, so callers never need
// to guard call sites.
type ServiceMetrics struct {
	state            *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	reconcileSeconds prometheus.Histogram
	fsUsage          *prometheus.GaugeVec
}

// NewServiceMetrics creates a Prometheus-backed ServiceMetrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewServiceMetrics() *ServiceMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &ServiceMetrics{
		state: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloudman_service_state",
				Help: "Current lifecycle state per service (1 for the active state, 0 otherwise)",
			},
			[]string{"service", "state"},
		),
		transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudman_service_state_changes_total",
				Help: "Total observed service state changes by service and new state",
			},
			[]string{"service", "state"},
		),
		reconcileSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cloudman_reconcile_cycle_seconds",
				Help:    "Duration of full status reconciliation cycles",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		fsUsage: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloudman_filesystem_bytes",
				Help: "Filesystem capacity by mount point and kind (total, used, available)",
			},
			[]string{"mount_point", "kind"},
		),
	}
}

// RecordState marks the service's active state, clearing the other state
// series for the same service.
func (m *ServiceMetrics) RecordState(service string, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.state.WithLabelValues(service, s).Set(v)
	}
}

// RecordTransition counts a state change.
func (m *ServiceMetrics) RecordTransition(service string, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(service, state).Inc()
}

// ObserveReconcile records the duration of one reconciliation cycle.
func (m *ServiceMetrics) ObserveReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileSeconds.Observe(d.Seconds())
}

// RecordFilesystemUsage publishes capacity figures for a mount point.
func (m *ServiceMetrics) RecordFilesystemUsage(mountPoint string, total, used, available uint64) {
	if m == nil {
		return
	}
	m.fsUsage.WithLabelValues(mountPoint, "total").Set(float64(total))
	m.fsUsage.WithLabelValues(mountPoint, "used").Set(float64(used))
	m.fsUsage.WithLabelValues(mountPoint, "available").Set(float64(available))
}
