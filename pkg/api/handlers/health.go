// Package handlers implements the REST API endpoints over the service
// registry.
package handlers

import (
	"net/http"

	"github.com/supernifty/cloudman/pkg/service"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	registry *service.Registry
}

// NewHealthHandler creates a health handler over the registry.
func NewHealthHandler(registry *service.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Liveness handles GET /health. It answers healthy whenever the process
// is serving requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"services": h.registry.Count(),
	}))
}

// Readiness handles GET /health/ready. The node is ready when every
// registered service reports Running; otherwise it answers 503 and lists
// the services still on their way up or in error.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	var notReady []map[string]string
	for _, svc := range h.registry.List() {
		if st := svc.State(); st != service.StateRunning {
			notReady = append(notReady, map[string]string{
				"name":  svc.Name(),
				"state": st.String(),
			})
		}
	}

	if len(notReady) > 0 {
		writeJSON(w, http.StatusServiceUnavailable,
			unhealthyResponse("services not running", map[string]interface{}{
				"not_ready": notReady,
			}))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(nil))
}
