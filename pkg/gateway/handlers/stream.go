package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/engine/arbiter"
	"github.com/outdial/amd-gateway/pkg/engine/audiobuf"
	"github.com/outdial/amd-gateway/pkg/gateway/ratelimit"
	"github.com/outdial/amd-gateway/pkg/metrics"
	"github.com/outdial/amd-gateway/pkg/store"
)

// Stream ingests provider media streams over WebSocket using the
// start/media/stop frame vocabulary. Media payloads are base64 mu-law or
// PCM; they feed the same per-call batch pipeline as HTTP ingest.
type Stream struct {
	Store     store.Store
	Pipeline  *audiobuf.Pipeline
	Detectors engine.DetectorRegistry
	Arbiter   *arbiter.Arbiter
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	MaxFrameBytes    int64
	MaxDuration      time.Duration
	HandshakeTimeout time.Duration
}

type streamFrame struct {
	Event string `json:"event"`
	Start *struct {
		CallSid          string            `json:"callSid"`
		StreamSid        string            `json:"streamSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

func (h *Stream) Serve(w http.ResponseWriter, r *http.Request) {
	if h.Limiter != nil {
		d := h.Limiter.AcquireStream("media_stream", time.Now())
		if !d.Allowed {
			writeError(w, r, &engine.Error{Type: engine.ErrRateLimit, Message: "too many concurrent streams"})
			return
		}
		defer d.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.HandshakeTimeout,
		ReadBufferSize:   16 * 1024,
		WriteBufferSize:  4 * 1024,
		// Streams originate from the telephony provider, not a browser.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(h.MaxFrameBytes)
	deadline := time.Now().Add(h.MaxDuration)
	_ = conn.SetReadDeadline(deadline)

	// One detached context per session: classification must survive the
	// HTTP request context, which dies with the hijacked connection.
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	var (
		call   *engine.Call
		det    engine.Detector
		format = engine.FormatPCM
	)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if call != nil {
				h.Pipeline.Drop(call.ID)
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Debug("stream read ended", "error", err)
			}
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			h.Logger.Warn("unparseable stream frame", "error", err)
			continue
		}

		switch frame.Event {
		case "connected":
			// Handshake preamble; nothing to do until start.

		case "start":
			if frame.Start == nil || frame.Start.CallSid == "" {
				h.closeWithReason(conn, "start frame missing callSid")
				return
			}
			c, err := h.Store.GetCallByCorrelationID(ctx, frame.Start.CallSid)
			if err != nil {
				h.closeWithReason(conn, "unknown call")
				return
			}
			d, ok := h.Detectors.Get(c.Strategy)
			if !ok || !d.Capabilities().Audio {
				h.closeWithReason(conn, "strategy does not accept audio")
				return
			}
			if f := engine.AudioFormat(frame.Start.CustomParameters["format"]); f.Valid() {
				format = f
			}
			call, det = c, d
			h.Logger.Info("media stream started",
				"call_id", call.ID,
				"correlation_id", frame.Start.CallSid,
				"stream_sid", frame.Start.StreamSid,
			)

		case "media":
			if call == nil || frame.Media == nil {
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil || len(chunk) == 0 {
				continue
			}
			batch, ready := h.Pipeline.Append(call.ID, chunk)
			if !ready {
				continue
			}
			h.Metrics.IncAudioBatch()
			dr := det.ProcessAudioChunk(ctx, batch, format)
			if dr == nil {
				continue
			}
			res, err := h.Arbiter.HandleAudioResult(ctx, call.ID, dr)
			if err != nil {
				h.Logger.Error("audio result not applied", "call_id", call.ID, "error", err)
				continue
			}
			if res.Outcome == arbiter.OutcomeCommitted {
				h.Logger.Info("stream verdict committed", "call_id", call.ID, "verdict", res.Call.Verdict)
			}

		case "stop":
			if call != nil {
				h.Pipeline.Drop(call.ID)
				h.Logger.Info("media stream stopped", "call_id", call.ID)
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return

		default:
			// Mark frames and future vocabulary are ignored.
		}
	}
}

func (h *Stream) closeWithReason(conn *websocket.Conn, reason string) {
	h.Logger.Warn("closing media stream", "reason", reason)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}
