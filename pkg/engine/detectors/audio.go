package detectors

import (
	"context"
	"time"

	"github.com/outdial/amd-gateway/pkg/classifier"
	"github.com/outdial/amd-gateway/pkg/engine"
)

// AudioDetector backs the two audio-classifier variants. It forwards a
// bounded audio slice to an external classifier and maps the returned
// label to a verdict: "human" means human, anything else means machine.
// Classifier failures degrade to a nil result; they never propagate.
type AudioDetector struct {
	base
	name       engine.Strategy
	classifier classifier.Classifier
	timeout    time.Duration
}

func (d *AudioDetector) Name() engine.Strategy {
	return d.name
}

func (d *AudioDetector) Capabilities() engine.DetectorCapabilities {
	return engine.DetectorCapabilities{Audio: true}
}

func (d *AudioDetector) Initialize(ctx context.Context, call *engine.Call, correlationID string) error {
	return d.recordStart(ctx, call, correlationID, d.name)
}

func (d *AudioDetector) HandleWebhook(ev engine.ProviderEvent) *engine.DetectionResult {
	return nil
}

func (d *AudioDetector) ProcessAudioChunk(ctx context.Context, buf []byte, format engine.AudioFormat) *engine.DetectionResult {
	if d.classifier == nil {
		d.logger.Warn("classifier not configured", "strategy", d.name)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	pred, err := d.classifier.Classify(ctx, buf, string(format))
	if err != nil {
		d.logger.Error("classifier failed",
			"strategy", d.name,
			"classifier", d.classifier.Name(),
			"bytes", len(buf),
			"error", err,
		)
		return nil
	}
	latency := time.Since(start).Milliseconds()

	verdict := engine.VerdictMachine
	if pred.Label == classifier.LabelHuman {
		verdict = engine.VerdictHuman
	}
	confidence := pred.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = engine.DefaultConfidence
	}

	return &engine.DetectionResult{
		Verdict:    verdict,
		Confidence: confidence,
		LatencyMS:  &latency,
		Raw:        pred.Raw,
	}
}
