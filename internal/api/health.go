package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth reports the health of the API and its dependencies.
// The turn log is required; the search cache only degrades the report.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":   "healthy",
		"sessions": h.chat.Sessions().Len(),
		"checks":   checks,
	}
	statusCode := http.StatusOK

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "dependency", "database", "error", err)
			status["status"] = "unhealthy"
			checks["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", "dependency", "cache", "error", err)
			if statusCode == http.StatusOK {
				status["status"] = "degraded"
			}
			checks["cache"] = "unreachable"
		} else {
			checks["cache"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}
