package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/engine/arbiter"
	"github.com/outdial/amd-gateway/pkg/gateway/auth"
	"github.com/outdial/amd-gateway/pkg/metrics"
	"github.com/outdial/amd-gateway/pkg/store"
)

// Dialer places an outbound call and returns the provider's correlation
// identifier for it.
type Dialer interface {
	Dial(ctx context.Context, call *engine.Call) (string, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Calls serves the call-management endpoints.
type Calls struct {
	Store     store.Store
	Arbiter   *arbiter.Arbiter
	Detectors engine.DetectorRegistry
	Dialer    Dialer // nil disables outbound dialing
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	MaxBodyBytes int64
}

type createCallRequest struct {
	To       string `json:"to"`
	Strategy string `json:"strategy"`

	// CorrelationID links a call that was placed outside the gateway.
	// Mutually exclusive with dialing: when set, the gateway records the
	// call and waits for the provider's webhooks.
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (h *Calls) Create(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeJSON(w, r, h.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.To == "" {
		writeError(w, r, engine.NewInvalidRequestErrorWithParam("to is required", "to"))
		return
	}
	strategy := engine.Strategy(req.Strategy)
	if !strategy.Valid() {
		writeError(w, r, engine.NewInvalidRequestErrorWithParam(
			fmt.Sprintf("unknown strategy %q", req.Strategy), "strategy"))
		return
	}

	call := &engine.Call{
		ID:            uuid.NewString(),
		To:            req.To,
		Strategy:      strategy,
		Status:        engine.StatusPending,
		Verdict:       engine.VerdictUndecided,
		CorrelationID: req.CorrelationID,
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		call.Owner = p.APIKey
	}

	if err := h.Store.CreateCall(r.Context(), call); err != nil {
		writeError(w, r, err)
		return
	}
	h.Metrics.IncCallCreated(string(strategy))

	corrID := req.CorrelationID
	if corrID == "" && h.Dialer != nil {
		sid, err := h.Dialer.Dial(r.Context(), call)
		if err != nil {
			dialErr := h.Store.WithCall(r.Context(), call.ID, func(tx store.CallTx) error {
				return tx.SetStatus(engine.StatusFailed, nil)
			})
			if dialErr != nil {
				h.Logger.Error("failed to mark undialed call", "call_id", call.ID, "error", dialErr)
			}
			writeError(w, r, engine.NewAPIError(fmt.Sprintf("dial failed: %v", err)))
			return
		}
		corrID = sid
	}

	if corrID != "" {
		err := h.Store.WithCall(r.Context(), call.ID, func(tx store.CallTx) error {
			return tx.SetCorrelationID(corrID)
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		call.CorrelationID = corrID
	}

	// Detection start is best-effort bookkeeping; a failed event write
	// must not fail the call.
	if det, ok := h.Detectors.Get(strategy); ok {
		if err := det.Initialize(r.Context(), call, corrID); err != nil {
			h.Logger.Warn("detection start not recorded", "call_id", call.ID, "error", err)
		}
	}

	out, err := h.Store.GetCall(r.Context(), call.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Logger.Info("call created",
		"call_id", out.ID,
		"strategy", out.Strategy,
		"correlation_id", out.CorrelationID,
	)
	writeJSON(w, http.StatusCreated, out)
}

func (h *Calls) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, engine.NewInvalidRequestErrorWithParam("limit must be a positive integer", "limit"))
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	calls, err := h.Store.ListCalls(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (h *Calls) Get(w http.ResponseWriter, r *http.Request) {
	call, err := h.Store.GetCall(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *Calls) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.ListEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type overrideRequest struct {
	Verdict    string   `json:"verdict"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Override commits a manual verdict, the only path allowed to replace an
// already committed one.
func (h *Calls) Override(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, h.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	verdict := engine.Verdict(req.Verdict)
	switch verdict {
	case engine.VerdictHuman, engine.VerdictMachine, engine.VerdictUndecided, engine.VerdictTimeout:
	default:
		writeError(w, r, engine.NewInvalidRequestErrorWithParam(
			fmt.Sprintf("unknown verdict %q", req.Verdict), "verdict"))
		return
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 1 {
		writeError(w, r, engine.NewInvalidRequestErrorWithParam("confidence must be in [0,1]", "confidence"))
		return
	}

	call, err := h.Arbiter.Override(r.Context(), r.PathValue("id"), verdict, confidence)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Logger.Info("manual verdict override", "call_id", call.ID, "verdict", verdict, "confidence", confidence)
	writeJSON(w, http.StatusOK, call)
}

// Strategies lists the registered detection strategies and their
// capabilities.
func (h *Calls) Strategies(w http.ResponseWriter, r *http.Request) {
	names := h.Detectors.List()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		det, _ := h.Detectors.Get(name)
		out = append(out, map[string]any{
			"strategy":     name,
			"capabilities": det.Capabilities(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": out})
}
