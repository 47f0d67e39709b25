package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/engine/arbiter"
	"github.com/outdial/amd-gateway/pkg/engine/detectors"
	"github.com/outdial/amd-gateway/pkg/store"
)

type fakeDialer struct {
	sid string
	err error

	calls int
}

func (f *fakeDialer) Dial(ctx context.Context, call *engine.Call) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.sid, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCallsFixture(t *testing.T, dialer Dialer) (*http.ServeMux, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	reg := detectors.NewRegistry(detectors.Config{Store: mem, Logger: discardLogger()})
	arb := arbiter.New(arbiter.Config{Store: mem, Detectors: reg, Logger: discardLogger()})

	h := &Calls{
		Store:        mem,
		Arbiter:      arb,
		Detectors:    reg,
		Dialer:       dialer,
		Logger:       discardLogger(),
		MaxBodyBytes: 1 << 20,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/calls", h.Create)
	mux.HandleFunc("GET /v1/calls", h.List)
	mux.HandleFunc("GET /v1/calls/{id}", h.Get)
	mux.HandleFunc("GET /v1/calls/{id}/events", h.Events)
	mux.HandleFunc("POST /v1/calls/{id}/verdict", h.Override)
	mux.HandleFunc("GET /v1/strategies", h.Strategies)
	return mux, mem
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateCall_DialsAndRecordsStart(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{sid: "CA42"}
	mux, mem := newCallsFixture(t, dialer)

	rec := doJSON(t, mux, http.MethodPost, "/v1/calls", `{"to":"+15550001111","strategy":"twilio_amd"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var call engine.Call
	if err := json.Unmarshal(rec.Body.Bytes(), &call); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if call.ID == "" {
		t.Fatal("call id missing")
	}
	if call.CorrelationID != "CA42" {
		t.Fatalf("correlation id = %q, want CA42", call.CorrelationID)
	}
	if call.Status != engine.StatusPending || call.Verdict != engine.VerdictUndecided {
		t.Fatalf("initial state = (%s, %s)", call.Status, call.Verdict)
	}
	if dialer.calls != 1 {
		t.Fatalf("dialer invoked %d times, want 1", dialer.calls)
	}

	events, err := mem.ListEvents(t.Context(), call.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != engine.EventDetectionStart {
		t.Fatalf("events = %+v, want one detection_start", events)
	}
}

func TestCreateCall_ExternalCorrelationIDSkipsDialer(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{sid: "CA42"}
	mux, _ := newCallsFixture(t, dialer)

	rec := doJSON(t, mux, http.MethodPost, "/v1/calls",
		`{"to":"+15550001111","strategy":"sip_amd","correlation_id":"ext-123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if dialer.calls != 0 {
		t.Fatalf("dialer invoked %d times for an externally placed call", dialer.calls)
	}

	var call engine.Call
	_ = json.Unmarshal(rec.Body.Bytes(), &call)
	if call.CorrelationID != "ext-123" {
		t.Fatalf("correlation id = %q, want ext-123", call.CorrelationID)
	}
}

func TestCreateCall_Validation(t *testing.T) {
	t.Parallel()
	mux, _ := newCallsFixture(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"to":`},
		{"missing to", `{"strategy":"twilio_amd"}`},
		{"unknown strategy", `{"to":"+15550001111","strategy":"psychic"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/v1/calls", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestCreateCall_DialFailureMarksCallFailed(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{err: errors.New("provider down")}
	mux, mem := newCallsFixture(t, dialer)

	rec := doJSON(t, mux, http.MethodPost, "/v1/calls", `{"to":"+15550001111","strategy":"twilio_amd"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body %s", rec.Code, rec.Body)
	}

	calls, err := mem.ListCalls(t.Context(), 10)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(calls) != 1 || calls[0].Status != engine.StatusFailed {
		t.Fatalf("calls = %+v, want one FAILED record", calls)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	t.Parallel()
	mux, _ := newCallsFixture(t, nil)

	rec := doJSON(t, mux, http.MethodGet, "/v1/calls/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not_found_error") {
		t.Fatalf("body = %s, want canonical error envelope", rec.Body)
	}
}

func TestListCalls_LimitValidation(t *testing.T) {
	t.Parallel()
	mux, _ := newCallsFixture(t, nil)

	rec := doJSON(t, mux, http.MethodGet, "/v1/calls?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/v1/calls?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestOverride(t *testing.T) {
	t.Parallel()
	mux, mem := newCallsFixture(t, nil)

	call := &engine.Call{ID: "c1", To: "+15550001111", Strategy: engine.StrategyTwilioAMD}
	if err := mem.CreateCall(t.Context(), call); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	rec := doJSON(t, mux, http.MethodPost, "/v1/calls/c1/verdict", `{"verdict":"MACHINE","confidence":0.99}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got engine.Call
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Verdict != engine.VerdictMachine || got.Confidence == nil || *got.Confidence != 0.99 {
		t.Fatalf("call = %+v, want MACHINE@0.99", got)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/calls/c1/verdict", `{"verdict":"ROBOT"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown verdict status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/v1/calls/c1/verdict", `{"verdict":"HUMAN","confidence":1.5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range confidence status = %d, want 400", rec.Code)
	}
}

func TestStrategies(t *testing.T) {
	t.Parallel()
	mux, _ := newCallsFixture(t, nil)

	rec := doJSON(t, mux, http.MethodGet, "/v1/strategies", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Strategies []struct {
			Strategy     string `json:"strategy"`
			Capabilities struct {
				Webhook bool `json:"webhook"`
				Audio   bool `json:"audio"`
			} `json:"capabilities"`
		} `json:"strategies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Strategies) != 4 {
		t.Fatalf("strategies = %d, want 4", len(out.Strategies))
	}
}
