package api

import (
	"net/http"

	"github.com/snarg/stt-engine/internal/accel"
)

// DiagnosticsHandler serves GET /api/test-cuda. A probe error is still a
// 200; the report's status field carries it.
func DiagnosticsHandler(probe AccelProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probe == nil {
			WriteJSON(w, http.StatusServiceUnavailable, accel.Report{
				Status:  accel.StatusError,
				Message: "accelerator probe not configured",
			})
			return
		}
		WriteJSON(w, http.StatusOK, probe.Check(r.Context()))
	}
}
