package twilio

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/outdial/amd-gateway/pkg/engine"
)

func newTestProvider(t *testing.T, capture *url.Values) *Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Calls.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = (%q, %q, %v)", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		*capture = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"queued","to":"+15550001111"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewWithClient("AC123", "secret", srv.URL, srv.Client())
	return NewProvider(client, ProviderConfig{
		From:              "+15559990000",
		VoiceURL:          "https://gw.example.com/twiml",
		AMDCallbackURL:    "https://gw.example.com/v1/webhooks/amd",
		StatusCallbackURL: "https://gw.example.com/v1/webhooks/status",
	})
}

func TestDial_NativeAMDStrategy(t *testing.T) {
	t.Parallel()

	var form url.Values
	p := newTestProvider(t, &form)

	sid, err := p.Dial(t.Context(), &engine.Call{
		ID:       "c1",
		To:       "+15550001111",
		Strategy: engine.StrategyTwilioAMD,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if sid != "CA999" {
		t.Fatalf("sid = %q, want CA999", sid)
	}

	if got := form.Get("MachineDetection"); got != "DetectMessageEnd" {
		t.Fatalf("MachineDetection = %q, want DetectMessageEnd", got)
	}
	if got := form.Get("AsyncAmd"); got != "true" {
		t.Fatalf("AsyncAmd = %q, want true", got)
	}
	if got := form.Get("AsyncAmdStatusCallback"); got != "https://gw.example.com/v1/webhooks/amd" {
		t.Fatalf("AsyncAmdStatusCallback = %q", got)
	}
	if got := form.Get("StatusCallback"); got != "https://gw.example.com/v1/webhooks/status" {
		t.Fatalf("StatusCallback = %q", got)
	}
	if got := form["StatusCallbackEvent"]; len(got) != 4 {
		t.Fatalf("StatusCallbackEvent = %v, want the four lifecycle events", got)
	}
}

func TestDial_OtherStrategiesSkipNativeAMD(t *testing.T) {
	t.Parallel()

	for _, strategy := range []engine.Strategy{engine.StrategySIPAMD, engine.StrategyWav2Vec, engine.StrategyGemini} {
		var form url.Values
		p := newTestProvider(t, &form)

		if _, err := p.Dial(t.Context(), &engine.Call{ID: "c1", To: "+15550001111", Strategy: strategy}); err != nil {
			t.Fatalf("Dial(%s): %v", strategy, err)
		}
		if got := form.Get("MachineDetection"); got != "" {
			t.Fatalf("strategy %s set MachineDetection = %q, want unset", strategy, got)
		}
		if got := form.Get("StatusCallback"); got == "" {
			t.Fatalf("strategy %s missing StatusCallback", strategy)
		}
	}
}

func TestCreateCall_ErrorResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid to number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewWithClient("AC123", "secret", srv.URL, srv.Client())
	if _, err := c.CreateCall(t.Context(), CreateCallParams{To: "bogus", From: "+1555"}); err == nil {
		t.Fatal("CreateCall returned nil error on 400")
	}
}

func TestCreateCall_MissingSID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c := NewWithClient("AC123", "secret", srv.URL, srv.Client())
	if _, err := c.CreateCall(t.Context(), CreateCallParams{To: "+1555", From: "+1556"}); err == nil {
		t.Fatal("CreateCall returned nil error on response without sid")
	}
}
