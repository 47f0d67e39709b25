package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health serves liveness and readiness probes.
type Health struct {
	// ReadyCheck pings the gateway's hard dependencies. Nil means no
	// dependency needs checking (the in-memory dev store).
	ReadyCheck func(ctx context.Context) error
}

func (h *Health) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Health) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ReadyCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ReadyCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// NotFound is the catch-all for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]string{
			"type":    "not_found_error",
			"message": "unknown route: " + r.Method + " " + r.URL.Path,
		},
	})
}
