// Package arbiter reconciles detection evidence from independently
// timed, possibly duplicated event sources into one committed verdict
// per call. All verdict and status mutation for a call runs inside the
// store's per-call critical section, so the dedicated detection webhook
// and the piggybacked status webhook can never double-commit.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/metrics"
	"github.com/outdial/amd-gateway/pkg/store"
)

// Policy constants from the detection retry/fallback design.
const (
	// CommitThreshold is the minimum confidence that commits a verdict
	// without exhausting retries.
	CommitThreshold = 0.7

	// RetryCap is the number of low-confidence attempts tolerated before
	// the next result commits regardless of confidence.
	RetryCap = 2

	// ShortCallMax is the duration at or under which a completed,
	// undecided call is treated as a human who hung up.
	ShortCallMax = 3 * time.Second

	// DefaultDetectionWindow is how long a strategy gets to resolve
	// before a completed call is written off as a detection timeout.
	DefaultDetectionWindow = 60 * time.Second
)

// Outcome reports what one inbound event did to a call.
type Outcome string

const (
	// OutcomeCommitted: a verdict was written to the call record.
	OutcomeCommitted Outcome = "committed"
	// OutcomePending: the evidence was logged as a retry; a later event
	// is expected to supply a better-confidence reading.
	OutcomePending Outcome = "pending"
	// OutcomeIgnored: the event carried no actionable signal, or the
	// verdict was already committed.
	OutcomeIgnored Outcome = "ignored"
)

// Result is the arbiter's answer for one inbound event.
type Result struct {
	Outcome Outcome
	Call    *engine.Call
}

// StatusEvent is one decoded generic call-status delivery.
type StatusEvent struct {
	CorrelationID   string
	RawStatus       string
	DurationSecs    *int
	DetectionStatus string // optional piggybacked AMD status
	Raw             json.RawMessage
}

// Arbiter owns the commit rule, the lifecycle state machine, and the
// timeout/fallback policy.
type Arbiter struct {
	store     store.Store
	detectors engine.DetectorRegistry
	logger    *slog.Logger
	metrics   *metrics.Metrics

	detectionWindow time.Duration
}

// Config carries the arbiter's dependencies.
type Config struct {
	Store           store.Store
	Detectors       engine.DetectorRegistry
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	DetectionWindow time.Duration
}

// New creates an arbiter.
func New(cfg Config) *Arbiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DetectionWindow <= 0 {
		cfg.DetectionWindow = DefaultDetectionWindow
	}
	return &Arbiter{
		store:           cfg.Store,
		detectors:       cfg.Detectors,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		detectionWindow: cfg.DetectionWindow,
	}
}

// HandleDetectionEvent processes one dedicated detection-status
// delivery (Twilio AMD callback or SIP platform AMD event), identified
// by the provider's correlation id.
func (a *Arbiter) HandleDetectionEvent(ctx context.Context, source string, ev engine.ProviderEvent) (*Result, error) {
	if ev.CorrelationID == "" {
		return nil, engine.NewInvalidRequestErrorWithParam("correlation id is required", "CallSid")
	}
	call, err := a.store.GetCallByCorrelationID(ctx, ev.CorrelationID)
	if err != nil {
		return nil, err
	}
	a.metrics.IncWebhook(source)

	res := &Result{Outcome: OutcomeIgnored}
	err = a.store.WithCall(ctx, call.ID, func(tx store.CallTx) error {
		if err := tx.AppendEvent(engine.EventWebhookReceived, nil, nil, ev.Raw); err != nil {
			return err
		}

		cur := tx.Call()
		if status, ok := engine.StatusFromProvider(ev.CallStatus); ok && !cur.Status.Terminal() {
			if err := tx.SetStatus(status, nil); err != nil {
				return err
			}
		}

		cur = tx.Call()
		ev.CallEnded = cur.Status.Terminal()

		det, ok := a.detectors.Get(cur.Strategy)
		if !ok {
			return engine.NewAPIError(fmt.Sprintf("no detector registered for strategy %q", cur.Strategy))
		}
		if dr := det.HandleWebhook(ev); dr != nil {
			outcome, err := a.resolveLocked(tx, cur, dr)
			if err != nil {
				return err
			}
			res.Outcome = outcome
		}

		if err := a.maybeFallbackLocked(tx); err != nil {
			return err
		}
		res.Call = tx.Call()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// HandleStatusEvent processes one generic call-status delivery. Status
// strings drive the lifecycle state machine 1:1; embedded detection
// evidence (the provider's undocumented fallback path) is routed
// through the same commit rule as the dedicated webhook.
func (a *Arbiter) HandleStatusEvent(ctx context.Context, ev StatusEvent) (*Result, error) {
	if ev.CorrelationID == "" {
		return nil, engine.NewInvalidRequestErrorWithParam("correlation id is required", "CallSid")
	}
	call, err := a.store.GetCallByCorrelationID(ctx, ev.CorrelationID)
	if err != nil {
		return nil, err
	}
	a.metrics.IncWebhook("call_status")

	res := &Result{Outcome: OutcomeIgnored}
	err = a.store.WithCall(ctx, call.ID, func(tx store.CallTx) error {
		if err := tx.AppendEvent(engine.EventWebhookReceived, nil, nil, ev.Raw); err != nil {
			return err
		}

		cur := tx.Call()
		status, recognized := engine.StatusFromProvider(ev.RawStatus)
		if recognized && !cur.Status.Terminal() {
			if err := tx.SetStatus(status, ev.DurationSecs); err != nil {
				return err
			}
		} else if ev.DurationSecs != nil {
			if err := tx.SetStatus(cur.Status, ev.DurationSecs); err != nil {
				return err
			}
		}

		if ev.DetectionStatus != "" {
			cur = tx.Call()
			det, ok := a.detectors.Get(cur.Strategy)
			if !ok {
				return engine.NewAPIError(fmt.Sprintf("no detector registered for strategy %q", cur.Strategy))
			}
			dr := det.HandleWebhook(engine.ProviderEvent{
				CorrelationID:   ev.CorrelationID,
				DetectionStatus: ev.DetectionStatus,
				CallEnded:       cur.Status.Terminal(),
				Raw:             ev.Raw,
			})
			if dr != nil {
				outcome, err := a.resolveLocked(tx, cur, dr)
				if err != nil {
					return err
				}
				res.Outcome = outcome
			}
		}

		if err := a.maybeFallbackLocked(tx); err != nil {
			return err
		}
		res.Call = tx.Call()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// HandleAudioResult folds one classifier result for a call into the
// commit rule. The caller (the audio pipeline handler) already holds a
// non-nil result; classifier failures never reach here.
func (a *Arbiter) HandleAudioResult(ctx context.Context, callID string, dr *engine.DetectionResult) (*Result, error) {
	res := &Result{Outcome: OutcomeIgnored}
	err := a.store.WithCall(ctx, callID, func(tx store.CallTx) error {
		outcome, err := a.resolveLocked(tx, tx.Call(), dr)
		if err != nil {
			return err
		}
		res.Outcome = outcome
		res.Call = tx.Call()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dr.LatencyMS != nil {
		a.metrics.ObserveClassifierLatency(float64(*dr.LatencyMS) / 1000)
	}
	return res, nil
}

// Override commits a verdict manually, outside the normal commit rule.
// This is the only path that may change an already committed verdict.
func (a *Arbiter) Override(ctx context.Context, callID string, verdict engine.Verdict, confidence float64) (*engine.Call, error) {
	var out *engine.Call
	err := a.store.WithCall(ctx, callID, func(tx store.CallTx) error {
		if err := tx.SetVerdict(verdict, confidence); err != nil {
			return err
		}
		if err := tx.AppendEvent(engine.EventManualUpdate, &verdict, &confidence, nil); err != nil {
			return err
		}
		out = tx.Call()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveLocked applies the confidence-gated retry policy to one
// detection result. Must run inside the call's critical section.
func (a *Arbiter) resolveLocked(tx store.CallTx, call *engine.Call, dr *engine.DetectionResult) (Outcome, error) {
	if call.Verdict.Committed() {
		// Duplicate or late delivery; logged, never regresses the verdict.
		return OutcomeIgnored, nil
	}

	retries, err := tx.CountEvents(engine.EventRetryPrefix)
	if err != nil {
		return OutcomeIgnored, err
	}

	if dr.Confidence >= CommitThreshold || retries >= RetryCap {
		kind := engine.EventDetectionComplete
		if retries > 0 {
			kind = engine.EventDetectionCompleteRetried
		}
		if err := tx.SetVerdict(dr.Verdict, dr.Confidence); err != nil {
			return OutcomeIgnored, err
		}
		if err := tx.AppendEvent(kind, &dr.Verdict, &dr.Confidence, dr.Raw); err != nil {
			return OutcomeIgnored, err
		}
		a.metrics.IncVerdict(string(dr.Verdict), string(call.Strategy))
		a.logger.Info("verdict committed",
			"call_id", call.ID,
			"verdict", dr.Verdict,
			"confidence", dr.Confidence,
			"retries", retries,
		)
		return OutcomeCommitted, nil
	}

	kind := fmt.Sprintf("%s%d", engine.EventRetryPrefix, retries+1)
	if err := tx.AppendEvent(kind, &dr.Verdict, &dr.Confidence, dr.Raw); err != nil {
		return OutcomeIgnored, err
	}
	a.metrics.IncRetry()
	a.logger.Info("low-confidence result deferred",
		"call_id", call.ID,
		"verdict", dr.Verdict,
		"confidence", dr.Confidence,
		"attempt", retries+1,
	)
	return OutcomePending, nil
}

// maybeFallbackLocked commits a deterministic verdict when a call has
// completed without one. Idempotent: a committed verdict makes it a
// no-op, so at most one fallback event is ever appended.
func (a *Arbiter) maybeFallbackLocked(tx store.CallTx) error {
	call := tx.Call()
	if call.Status != engine.StatusCompleted || call.Verdict.Committed() {
		return nil
	}

	duration := 0
	if call.DurationSecs != nil {
		duration = *call.DurationSecs
	}

	var (
		verdict    engine.Verdict
		confidence float64
		kind       string
		reason     string
	)
	switch {
	case time.Duration(duration)*time.Second <= ShortCallMax:
		// A call that ends almost immediately after answer is a human
		// who hung up, not a machine greeting.
		verdict, confidence = engine.VerdictHuman, 0.6
		kind, reason = engine.EventDetectionComplete, "short_call"
	case time.Duration(duration)*time.Second < a.detectionWindow:
		verdict, confidence = engine.VerdictTimeout, engine.DefaultConfidence
		kind, reason = engine.EventTimeout, "ended_before_detection"
	default:
		// Retry events are the record of detection evidence that arrived
		// but never cleared the commit rule.
		retries, err := tx.CountEvents(engine.EventRetryPrefix)
		if err != nil {
			return err
		}
		verdict, confidence = engine.VerdictTimeout, engine.DefaultConfidence
		kind = engine.EventTimeout
		if retries == 0 {
			reason = "no_evidence"
		} else {
			reason = "unusable_evidence"
		}
	}

	if err := tx.SetVerdict(verdict, confidence); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]any{
		"fallback":         true,
		"reason":           reason,
		"duration_seconds": duration,
	})
	if err := tx.AppendEvent(kind, &verdict, &confidence, payload); err != nil {
		return err
	}
	a.metrics.IncVerdict(string(verdict), string(call.Strategy))
	a.metrics.IncFallback(reason)
	a.logger.Info("fallback verdict committed",
		"call_id", call.ID,
		"verdict", verdict,
		"reason", reason,
		"duration_seconds", duration,
	)
	return nil
}
