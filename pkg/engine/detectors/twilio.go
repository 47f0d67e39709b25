package detectors

import (
	"context"

	"github.com/outdial/amd-gateway/pkg/engine"
)

// TwilioDetector maps Twilio's native AMD vocabulary (the AnsweredBy
// field on detection-status webhooks) to verdicts.
type TwilioDetector struct {
	base
}

func (d *TwilioDetector) Name() engine.Strategy {
	return engine.StrategyTwilioAMD
}

func (d *TwilioDetector) Capabilities() engine.DetectorCapabilities {
	return engine.DetectorCapabilities{Webhook: true}
}

func (d *TwilioDetector) Initialize(ctx context.Context, call *engine.Call, correlationID string) error {
	return d.recordStart(ctx, call, correlationID, engine.StrategyTwilioAMD)
}

func (d *TwilioDetector) HandleWebhook(ev engine.ProviderEvent) *engine.DetectionResult {
	switch ev.DetectionStatus {
	case "human":
		return &engine.DetectionResult{Verdict: engine.VerdictHuman, Confidence: 0.95, Raw: ev.Raw}
	case "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other", "fax":
		return &engine.DetectionResult{Verdict: engine.VerdictMachine, Confidence: 0.90, Raw: ev.Raw}
	case "":
		if ev.CallEnded {
			// Detection never reported before the call ended.
			return &engine.DetectionResult{Verdict: engine.VerdictTimeout, Confidence: engine.DefaultConfidence, Raw: ev.Raw}
		}
		// No AMD field on an in-flight event; nothing to evaluate yet.
		return nil
	default:
		// "unknown" and any unrecognized state.
		return &engine.DetectionResult{Verdict: engine.VerdictUndecided, Confidence: engine.DefaultConfidence, Raw: ev.Raw}
	}
}

func (d *TwilioDetector) ProcessAudioChunk(ctx context.Context, buf []byte, format engine.AudioFormat) *engine.DetectionResult {
	return nil
}
