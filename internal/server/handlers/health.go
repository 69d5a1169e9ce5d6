package handlers

import (
	"net/http"
)

// HealthCheck reports service and database health. GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
