package engine

import (
	"context"
)

// Detector is the interface every detection strategy variant implements.
// The rest of the engine never branches on strategy identity; optional
// inputs are gated by Capabilities.
type Detector interface {
	// Name returns the strategy identifier.
	Name() Strategy

	// Capabilities returns which input kinds this variant consumes.
	Capabilities() DetectorCapabilities

	// Initialize records detection start for a newly dialed call. It is
	// side-effect only and must never block call progress; callers log
	// and swallow any error.
	Initialize(ctx context.Context, call *Call, correlationID string) error

	// HandleWebhook maps one provider event to an optional result. A nil
	// result means the payload carried no actionable signal. Only
	// meaningful when Capabilities().Webhook is true.
	HandleWebhook(ev ProviderEvent) *DetectionResult

	// ProcessAudioChunk classifies one bounded audio slice. A nil result
	// means the external classifier failed or could not discriminate;
	// failures are logged inside the detector, never returned. Only
	// meaningful when Capabilities().Audio is true.
	ProcessAudioChunk(ctx context.Context, buf []byte, format AudioFormat) *DetectionResult
}

// DetectorCapabilities describes which inputs a variant consumes.
type DetectorCapabilities struct {
	Webhook bool `json:"webhook"`
	Audio   bool `json:"audio"`
}

// DetectorRegistry resolves a call's strategy to its detector variant.
type DetectorRegistry interface {
	// Register adds a detector to the registry.
	Register(d Detector)

	// Get returns the detector for a strategy.
	Get(strategy Strategy) (Detector, bool)

	// List returns all registered strategy names.
	List() []Strategy
}

type defaultRegistry struct {
	detectors map[Strategy]Detector
}

// NewDetectorRegistry creates an empty registry.
func NewDetectorRegistry() DetectorRegistry {
	return &defaultRegistry{
		detectors: make(map[Strategy]Detector),
	}
}

func (r *defaultRegistry) Register(d Detector) {
	r.detectors[d.Name()] = d
}

func (r *defaultRegistry) Get(strategy Strategy) (Detector, bool) {
	d, ok := r.detectors[strategy]
	return d, ok
}

func (r *defaultRegistry) List() []Strategy {
	names := make([]Strategy, 0, len(r.detectors))
	for name := range r.detectors {
		names = append(names, name)
	}
	return names
}
