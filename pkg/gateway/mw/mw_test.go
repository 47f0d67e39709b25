package mw

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/outdial/amd-gateway/pkg/gateway/auth"
	"github.com/outdial/amd-gateway/pkg/gateway/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("request id not generated")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("header = %q, context = %q", got, seen)
	}
}

func TestRequestID_ClientProvidedPreserved(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_client123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "req_client123" {
		t.Fatalf("request id = %q, want client value preserved", seen)
	}
}

func TestAuth_RequiredMode(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]struct{}{"k-good": {}},
	}

	var principal *auth.Principal
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = auth.PrincipalFrom(r.Context())
	}))

	// No token.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authentication_error") {
		t.Fatalf("body = %s, want canonical envelope", rec.Body)
	}

	// Wrong token.
	req := httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer k-bad")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}

	// Valid token.
	req = httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	req.Header.Set("Authorization", "Bearer k-good")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("good token status = %d, want 200", rec.Code)
	}
	if principal == nil || principal.APIKey != "k-good" {
		t.Fatalf("principal = %+v, want k-good", principal)
	}
}

func TestAuth_WebhookAndStreamPathsExempt(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]struct{}{"k-good": {}},
	}
	h := Auth(cfg, okHandler())

	for _, path := range []string{"/v1/webhooks/amd", "/v1/webhooks/status", "/v1/webhooks/sip", "/v1/stream", "/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("path %s status = %d, want exempt from auth", path, rec.Code)
		}
	}
}

func TestAuth_DisabledMode(t *testing.T) {
	t.Parallel()
	h := Auth(config.Config{AuthMode: config.AuthModeDisabled}, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()
	h := Recover(discardLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 after panic", rec.Code)
	}
}

func TestCORS_DisabledWithoutOrigins(t *testing.T) {
	t.Parallel()
	h := CORS(config.Config{}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin = %q, want unset", got)
	}
}

func TestCORS_AllowedOriginAndPreflight(t *testing.T) {
	t.Parallel()
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}}
	h := CORS(cfg, okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/calls", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/calls", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin = %q for disallowed origin, want unset", got)
	}
}
