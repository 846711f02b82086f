package api

import "net/http"

// Health reports liveness plus session-store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, "GET, HEAD")
		return
	}
	status := "ok"
	code := http.StatusOK
	if err := h.sessionManager().Ping(r.Context()); err != nil {
		h.logger().Error("session store ping failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(code)
		return
	}
	writeJSON(w, code, map[string]string{"status": status})
}
