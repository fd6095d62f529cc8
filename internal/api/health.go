package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 3 * time.Second

// HealthCheck is a dependency probe, such as an inference sidecar.
type HealthCheck interface {
	IsAvailable(ctx context.Context) bool
}

// HealthCheckFunc adapts a function to HealthCheck.
type HealthCheckFunc func(ctx context.Context) bool

func (f HealthCheckFunc) IsAvailable(ctx context.Context) bool { return f(ctx) }

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	checks    map[string]HealthCheck
	version   string
	startTime time.Time
}

func NewHealthHandler(checks map[string]HealthCheck, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports "healthy" when every check passes and "degraded"
// otherwise. Fallback strategies keep the server useful with a dependency
// down, so the status code stays 200.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checks))
	status := "healthy"

	for name, c := range h.checks {
		if c == nil {
			checks[name] = "not_configured"
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		ok := c.IsAvailable(ctx)
		cancel()
		if ok {
			checks[name] = "ok"
		} else {
			checks[name] = "unavailable"
			status = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
