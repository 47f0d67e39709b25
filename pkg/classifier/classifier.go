// Package classifier holds clients for the external ML services that
// label a bounded audio slice as human or machine. The services are
// black boxes returning {label, confidence}; everything smarter lives
// in the arbitration engine.
package classifier

import (
	"context"
	"encoding/json"
)

// Labels returned by the external classifiers. Anything that is not
// LabelHuman is treated as a machine by the audio detector variants.
const (
	LabelHuman     = "human"
	LabelVoicemail = "voicemail"
)

// Prediction is one classifier answer.
type Prediction struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Raw        json.RawMessage `json:"raw_data,omitempty"`
}

// Classifier labels one audio slice.
type Classifier interface {
	// Name returns the classifier identifier.
	Name() string

	// Classify sends audio to the external service and returns its
	// label and confidence. format is "wav" or "pcm".
	Classify(ctx context.Context, audio []byte, format string) (*Prediction, error)
}
