// Package detectors implements the four detection strategy variants
// behind the engine.Detector interface: twilio_amd and sip_amd consume
// webhook events, wav2vec and gemini consume buffered audio through an
// external classifier.
package detectors

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/outdial/amd-gateway/pkg/classifier"
	"github.com/outdial/amd-gateway/pkg/engine"
	"github.com/outdial/amd-gateway/pkg/store"
)

// DefaultClassifyTimeout bounds one external classifier round trip so a
// slow service degrades to "no result" instead of stalling the call.
const DefaultClassifyTimeout = 10 * time.Second

type base struct {
	store  store.Store
	logger *slog.Logger
}

// recordStart appends the detection_start event for a freshly dialed
// call. Callers treat failures as non-fatal.
func (b *base) recordStart(ctx context.Context, call *engine.Call, correlationID string, strategy engine.Strategy) error {
	payload, _ := json.Marshal(map[string]string{
		"strategy":       string(strategy),
		"correlation_id": correlationID,
	})
	return b.store.WithCall(ctx, call.ID, func(tx store.CallTx) error {
		return tx.AppendEvent(engine.EventDetectionStart, nil, nil, payload)
	})
}

// Config carries the dependencies the variants share.
type Config struct {
	Store           store.Store
	Logger          *slog.Logger
	Wav2Vec         classifier.Classifier
	Gemini          classifier.Classifier
	ClassifyTimeout time.Duration
}

// NewRegistry builds a registry holding all four variants. Audio
// variants whose classifier is not configured are still registered;
// they degrade to nil results and log the missing dependency.
func NewRegistry(cfg Config) engine.DetectorRegistry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}

	b := base{store: cfg.Store, logger: cfg.Logger}
	reg := engine.NewDetectorRegistry()
	reg.Register(&TwilioDetector{base: b})
	reg.Register(&SIPDetector{base: b})
	reg.Register(&AudioDetector{
		base:       b,
		name:       engine.StrategyWav2Vec,
		classifier: cfg.Wav2Vec,
		timeout:    cfg.ClassifyTimeout,
	})
	reg.Register(&AudioDetector{
		base:       b,
		name:       engine.StrategyGemini,
		classifier: cfg.Gemini,
		timeout:    cfg.ClassifyTimeout,
	})
	return reg
}
