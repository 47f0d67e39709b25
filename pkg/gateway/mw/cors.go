package mw

import (
	"net/http"

	"github.com/outdial/amd-gateway/pkg/gateway/config"
)

// CORS is disabled unless origins are configured. The gateway is a
// backend service; browser access is the exception, not the rule.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return next
	}
	_, wildcard := cfg.CORSAllowedOrigins["*"]

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		if origin != "" {
			if wildcard {
				allowed = true
			} else if _, ok := cfg.CORSAllowedOrigins[origin]; ok {
				allowed = true
			}
		}
		if allowed {
			if wildcard {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
