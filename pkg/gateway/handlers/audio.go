package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/engine/arbiter"
	"github.com/outdial/amd-gateway/pkg/engine/audiobuf"
	"github.com/outdial/amd-gateway/pkg/metrics"
	"github.com/outdial/amd-gateway/pkg/store"
)

// Audio serves raw audio-chunk ingest for the classifier strategies.
type Audio struct {
	Store     store.Store
	Pipeline  *audiobuf.Pipeline
	Detectors engine.DetectorRegistry
	Arbiter   *arbiter.Arbiter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	MaxBodyBytes int64
}

// Ingest accepts one audio chunk for a call. Chunks accumulate per call
// until a batch is ready; a ready batch goes to the call's classifier
// and the result to the arbiter.
func (h *Audio) Ingest(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	call, err := h.Store.GetCall(r.Context(), callID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	det, ok := h.Detectors.Get(call.Strategy)
	if !ok || !det.Capabilities().Audio {
		writeError(w, r, engine.NewCapabilityError(
			fmt.Sprintf("strategy %q does not accept audio", call.Strategy)))
		return
	}

	format := engine.AudioFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = engine.FormatWAV
	}
	if !format.Valid() {
		writeError(w, r, engine.NewInvalidRequestErrorWithParam(
			fmt.Sprintf("unknown audio format %q", format), "format"))
		return
	}

	chunk, err := readBody(w, r, h.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(chunk) == 0 {
		writeError(w, r, engine.NewInvalidRequestError("empty audio chunk"))
		return
	}

	if call.Status.Terminal() {
		// The call already ended; late media is discarded, not classified.
		h.Pipeline.Drop(callID)
		writeJSON(w, http.StatusOK, map[string]any{"accepted": false, "reason": "call_ended"})
		return
	}

	batch, ready := h.Pipeline.Append(callID, chunk)
	if !ready {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"buffered":      true,
			"pending_bytes": h.Pipeline.Pending(callID),
		})
		return
	}

	h.Metrics.IncAudioBatch()
	dr := det.ProcessAudioChunk(r.Context(), batch, format)
	if dr == nil {
		// Classifier unavailable or failed; logged inside the detector.
		writeJSON(w, http.StatusOK, map[string]any{"outcome": arbiter.OutcomeIgnored})
		return
	}

	res, err := h.Arbiter.HandleAudioResult(r.Context(), callID, dr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Logger.Info("audio batch classified",
		"call_id", callID,
		"strategy", call.Strategy,
		"batch_bytes", len(batch),
		"outcome", res.Outcome,
	)
	writeJSON(w, http.StatusOK, map[string]any{"outcome": res.Outcome, "call": res.Call})
}
