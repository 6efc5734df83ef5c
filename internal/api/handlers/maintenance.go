package handlers

import (
	"net/http"

	"github.com/mnemo-ai/mnemo/internal/service"
)

type MaintenanceHandler struct {
	maintenance *service.Maintenance
}

func NewMaintenanceHandler(m *service.Maintenance) *MaintenanceHandler {
	return &MaintenanceHandler{maintenance: m}
}

// Trigger runs a full maintenance cycle synchronously and returns its report.
func (h *MaintenanceHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report := h.maintenance.TriggerNow(r.Context())
	if report == nil {
		writeError(w, http.StatusGatewayTimeout, "maintenance cycle did not complete in time")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Last returns the most recent cycle report without running a new cycle.
func (h *MaintenanceHandler) Last(w http.ResponseWriter, r *http.Request) {
	report := h.maintenance.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no maintenance cycle has run yet")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
