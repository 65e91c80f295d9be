package httpapi

import (
	"net/http"

	core "github.com/lattice-run/core/internal/app/core/service"
)

// healthz handles GET /healthz — a liveness probe with no dependency checks.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// systemDescriptors handles GET /system/descriptors, advertising the
// placement and capabilities of every wired subsystem.
func (h *handlers) systemDescriptors(w http.ResponseWriter, r *http.Request) {
	descriptors := []core.Descriptor{
		h.app.Identity.Descriptor(),
		h.app.Accounts.Descriptor(),
		h.app.Agents.Descriptor(),
		h.app.Risk.Descriptor(),
		h.app.Dispatch.Descriptor(),
		h.app.Audit.Descriptor(),
	}
	descriptors = append(descriptors, h.app.Manager.Descriptors()...)
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": descriptors})
}
