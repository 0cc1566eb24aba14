package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/tripmind/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":       "healthy",
		"checks":       checks,
		"chat_sockets": h.sockets.Count(),
	}
	statusCode := http.StatusOK

	if h.svc.DB != nil {
		if err := h.svc.DB.Ping(ctx); err != nil {
			logging.FromContext(ctx).Error("Health check failed", "error", err)
			status["status"] = "degraded"
			checks["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}
