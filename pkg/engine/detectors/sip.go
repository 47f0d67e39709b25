package detectors

import (
	"context"
	"strings"

	"github.com/outdial/amd-gateway/pkg/engine"
)

// sipAssertedConfidence applies when the platform asserts a verdict
// without reporting its own confidence.
const sipAssertedConfidence = 0.90

// SIPDetector maps the SIP platform's AMD event tags ("amd.human",
// "amd.machine", "amd.timeout", "amd.error") to verdicts. The error tag
// signals "fall back to provider-native" and maps to an undecided
// low-confidence result so the retry policy takes over.
type SIPDetector struct {
	base
}

func (d *SIPDetector) Name() engine.Strategy {
	return engine.StrategySIPAMD
}

func (d *SIPDetector) Capabilities() engine.DetectorCapabilities {
	return engine.DetectorCapabilities{Webhook: true}
}

func (d *SIPDetector) Initialize(ctx context.Context, call *engine.Call, correlationID string) error {
	return d.recordStart(ctx, call, correlationID, engine.StrategySIPAMD)
}

func (d *SIPDetector) HandleWebhook(ev engine.ProviderEvent) *engine.DetectionResult {
	tag := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ev.EventType)), "amd.")

	confidence := func(def float64) float64 {
		if ev.Confidence != nil && *ev.Confidence >= 0 && *ev.Confidence <= 1 {
			return *ev.Confidence
		}
		return def
	}

	switch tag {
	case "human":
		return &engine.DetectionResult{Verdict: engine.VerdictHuman, Confidence: confidence(sipAssertedConfidence), Raw: ev.Raw}
	case "machine":
		return &engine.DetectionResult{Verdict: engine.VerdictMachine, Confidence: confidence(sipAssertedConfidence), Raw: ev.Raw}
	case "timeout":
		return &engine.DetectionResult{Verdict: engine.VerdictTimeout, Confidence: confidence(engine.DefaultConfidence), Raw: ev.Raw}
	case "error":
		return &engine.DetectionResult{Verdict: engine.VerdictUndecided, Confidence: engine.DefaultConfidence, Raw: ev.Raw}
	default:
		return nil
	}
}

func (d *SIPDetector) ProcessAudioChunk(ctx context.Context, buf []byte, format engine.AudioFormat) *engine.DetectionResult {
	return nil
}
