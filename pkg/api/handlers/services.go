package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supernifty/cloudman/pkg/service"
)

// ServiceInfo is the wire form of one managed service.
type ServiceInfo struct {
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Roles     []string `json:"roles"`
	Port      int      `json:"port,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// retryable is implemented by services that can re-enter the lifecycle
// from an absorbing state.
type retryable interface {
	Retry() error
}

// lastErrer exposes the cause recorded by the most recent failure.
type lastErrer interface {
	LastError() error
}

// porter exposes the TCP port a service listens on.
type porter interface {
	Port() int
}

// ServicesHandler serves the service inventory endpoints.
type ServicesHandler struct {
	registry *service.Registry
}

// NewServicesHandler creates a services handler over the registry.
func NewServicesHandler(registry *service.Registry) *ServicesHandler {
	return &ServicesHandler{registry: registry}
}

func describe(svc service.Service) ServiceInfo {
	info := ServiceInfo{
		Name:  svc.Name(),
		State: svc.State().String(),
	}
	for _, role := range svc.Roles() {
		info.Roles = append(info.Roles, role.String())
	}
	for _, dep := range svc.Dependencies() {
		info.DependsOn = append(info.DependsOn, dep.Requires.String())
	}
	if le, ok := svc.(lastErrer); ok {
		if err := le.LastError(); err != nil {
			info.LastError = err.Error()
		}
	}
	if p, ok := svc.(porter); ok {
		info.Port = p.Port()
	}
	return info
}

// List handles GET /services.
func (h *ServicesHandler) List(w http.ResponseWriter, r *http.Request) {
	services := h.registry.List()
	out := make([]ServiceInfo, 0, len(services))
	for _, svc := range services {
		out = append(out, describe(svc))
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Get handles GET /services/{name}.
func (h *ServicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	svc, err := h.registry.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(describe(svc)))
}

// Retry handles POST /services/{name}/retry: the operator escape from the
// Error and WaitingForUserAction states. The next reconciliation cycle
// attempts the start.
func (h *ServicesHandler) Retry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	svc, err := h.registry.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		return
	}

	rt, ok := svc.(retryable)
	if !ok {
		writeJSON(w, http.StatusConflict,
			errorResponse(fmt.Sprintf("service %q does not support retry", name)))
		return
	}
	if err := rt.Retry(); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusAccepted, okResponse(describe(svc)))
}
