package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/gateway/auth"
	"github.com/outdial/amd-gateway/pkg/gateway/ratelimit"
)

// RateLimit gates plain HTTP requests per principal. Stream sessions
// acquire their own permits inside the stream handler, where the
// session lifetime is known.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/stream" {
			next.ServeHTTP(w, r)
			return
		}

		key := "anonymous"
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			key = ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
		}

		d := limiter.AcquireRequest(key, time.Now())
		if !d.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if d.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, &engine.Error{
				Type:      engine.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			})
			return
		}
		defer d.Permit.Release()
		next.ServeHTTP(w, r)
	})
}
