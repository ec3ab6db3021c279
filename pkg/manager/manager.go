// Package manager drives the node's services: an initial start pass in
// registration order, a periodic reconciliation loop, and a reverse-order
// teardown on shutdown.
package manager

import (
	"context"
	"errors"
	"time"

	"github.com/supernifty/cloudman/internal/logger"
	"github.com/supernifty/cloudman/pkg/metrics"
	"github.com/supernifty/cloudman/pkg/service"
)

// Config holds the manager's timing knobs.
type Config struct {
	// ReconcileInterval is the period between status reconciliation
	// cycles.
	ReconcileInterval time.Duration

	// ShutdownTimeout bounds the teardown of all services.
	ShutdownTimeout time.Duration
}

// allStates enumerates display names for the per-service state gauge.
var allStates = []string{
	service.StateUnstarted.String(),
	service.StateConfiguring.String(),
	service.StateStarting.String(),
	service.StateRunning.String(),
	service.StateShuttingDown.String(),
	service.StateShutDown.String(),
	service.StateError.String(),
	service.StateWaitingForUserAction.String(),
}

// Manager owns the reconciliation loop over a service registry.
type Manager struct {
	registry *service.Registry
	cfg      Config
	metrics  *metrics.ServiceMetrics

	// prev remembers each service's state from the last cycle so state
	// changes can be counted. Only the loop goroutine touches it.
	prev map[string]service.State
}

// New creates a manager over the registry. metrics may be nil.
func New(registry *service.Registry, cfg Config, m *metrics.ServiceMetrics) *Manager {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Minute
	}
	return &Manager{
		registry: registry,
		cfg:      cfg,
		metrics:  m,
		prev:     make(map[string]service.State),
	}
}

// Serve starts every startable service, then reconciles on a fixed
// interval until the context is cancelled, at which point all services
// are removed in reverse registration order.
func (m *Manager) Serve(ctx context.Context) error {
	logger.Info("Service manager starting",
		"services", m.registry.Count(),
		"reconcile_interval", m.cfg.ReconcileInterval)

	m.startPass(ctx)
	m.observe()

	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.shutdown()
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile runs one full cycle: refresh every service's status, then
// retry any Unstarted service whose dependencies are now satisfied.
func (m *Manager) Reconcile(ctx context.Context) {
	start := time.Now()

	for _, svc := range m.registry.List() {
		svc.Status(ctx)
	}
	m.startPass(ctx)
	m.observe()

	m.metrics.ObserveReconcile(time.Since(start))
}

// startPass attempts to start every Unstarted service whose dependencies
// are satisfied. Services started later in the pass can rely on ones
// started earlier, so a linear registry order with storage first brings
// the whole node up in one pass.
func (m *Manager) startPass(ctx context.Context) {
	for _, svc := range m.registry.List() {
		if svc.State() != service.StateUnstarted {
			continue
		}
		if err := m.registry.CanStart(svc); err != nil {
			logger.Debug("Service start deferred",
				"service", svc.Name(), "reason", err)
			continue
		}
		if err := svc.Start(ctx); err != nil {
			if errors.Is(err, service.ErrDependencyNotRunning) {
				continue
			}
			logger.Error("Service start failed",
				"service", svc.Name(), "error", err)
		}
	}
}

// observe publishes state gauges and counts changes since the last cycle.
func (m *Manager) observe() {
	for _, svc := range m.registry.List() {
		st := svc.State()
		m.metrics.RecordState(svc.Name(), st.String(), allStates)

		if prev, ok := m.prev[svc.Name()]; !ok || prev != st {
			m.metrics.RecordTransition(svc.Name(), st.String())
		}
		m.prev[svc.Name()] = st
	}
}

// shutdown removes services in reverse registration order so dependents
// stop before what they depend on.
func (m *Manager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("Service manager shutting down")

	var errs []error
	services := m.registry.List()
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Remove(ctx); err != nil {
			logger.Error("Service removal failed",
				"service", svc.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
