package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/engine/arbiter"
)

// Webhooks serves the provider-facing callback endpoints. These paths
// are auth-exempt; correlation-id lookup is the access check.
type Webhooks struct {
	Arbiter *arbiter.Arbiter
	Logger  *slog.Logger

	MaxBodyBytes int64
}

// AMD handles the dedicated asynchronous machine-detection callback
// (form-encoded, Twilio vocabulary).
func (h *Webhooks) AMD(w http.ResponseWriter, r *http.Request) {
	form, raw, err := parseForm(w, r, h.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ev := engine.ProviderEvent{
		CorrelationID:   form.Get("CallSid"),
		DetectionStatus: form.Get("AnsweredBy"),
		CallStatus:      form.Get("CallStatus"),
		Raw:             raw,
	}
	res, err := h.Arbiter.HandleDetectionEvent(r.Context(), "twilio_amd", ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Logger.Info("amd webhook handled",
		"correlation_id", ev.CorrelationID,
		"answered_by", ev.DetectionStatus,
		"outcome", res.Outcome,
	)
	writeJSON(w, http.StatusOK, map[string]any{"outcome": res.Outcome})
}

// Status handles the generic call-status callback. AnsweredBy may ride
// along on status deliveries; it is routed through the same commit rule
// as the dedicated AMD webhook.
func (h *Webhooks) Status(w http.ResponseWriter, r *http.Request) {
	form, raw, err := parseForm(w, r, h.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ev := arbiter.StatusEvent{
		CorrelationID:   form.Get("CallSid"),
		RawStatus:       form.Get("CallStatus"),
		DetectionStatus: form.Get("AnsweredBy"),
		Raw:             raw,
	}
	if d := form.Get("CallDuration"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			writeError(w, r, engine.NewInvalidRequestErrorWithParam("CallDuration must be a non-negative integer", "CallDuration"))
			return
		}
		ev.DurationSecs = &n
	}

	res, err := h.Arbiter.HandleStatusEvent(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Logger.Info("status webhook handled",
		"correlation_id", ev.CorrelationID,
		"call_status", ev.RawStatus,
		"outcome", res.Outcome,
	)
	writeJSON(w, http.StatusOK, map[string]any{"outcome": res.Outcome})
}

type sipWebhookRequest struct {
	CorrelationID string   `json:"correlation_id"`
	Event         string   `json:"event"`
	Confidence    *float64 `json:"confidence,omitempty"`
	CallStatus    string   `json:"call_status,omitempty"`
}

// SIP handles the SIP-platform AMD event callback (JSON, "amd.*" event
// tags).
func (h *Webhooks) SIP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req sipWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, engine.NewInvalidRequestError("invalid JSON body"))
		return
	}

	ev := engine.ProviderEvent{
		CorrelationID: req.CorrelationID,
		EventType:     req.Event,
		CallStatus:    req.CallStatus,
		Confidence:    req.Confidence,
		Raw:           body,
	}
	res, err := h.Arbiter.HandleDetectionEvent(r.Context(), "sip_amd", ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Logger.Info("sip webhook handled",
		"correlation_id", ev.CorrelationID,
		"event", ev.EventType,
		"outcome", res.Outcome,
	)
	writeJSON(w, http.StatusOK, map[string]any{"outcome": res.Outcome})
}

// parseForm decodes a bounded form-encoded body and captures the fields
// as JSON for the event log.
func parseForm(w http.ResponseWriter, r *http.Request, maxBytes int64) (formValues, json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseForm(); err != nil {
		return nil, nil, engine.NewInvalidRequestError("invalid form body")
	}
	flat := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		flat[k] = r.PostForm.Get(k)
	}
	raw, _ := json.Marshal(flat)
	return formValues(flat), raw, nil
}

type formValues map[string]string

func (f formValues) Get(key string) string { return f[key] }
