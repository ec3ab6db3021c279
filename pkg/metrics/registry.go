// Package metrics provides Prometheus observability for the node manager.
//
// Collection is opt-in: until InitRegistry is called, every constructor
// returns nil and all recording methods are nil-safe no-ops, so disabled
// metrics cost nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registry *prometheus.Registry

// InitRegistry creates the process metrics registry and registers the
// standard Go and process collectors. Call once at startup when metrics are
// enabled in configuration.
func InitRegistry() {
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether metrics collection is active.
func IsEnabled() bool {
	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
