package engine

import (
	"encoding/json"
	"time"
)

// Verdict is the committed answering-machine-detection outcome for a call.
type Verdict string

const (
	VerdictHuman     Verdict = "HUMAN"
	VerdictMachine   Verdict = "MACHINE"
	VerdictUndecided Verdict = "UNDECIDED"
	VerdictTimeout   Verdict = "TIMEOUT"
)

// Committed reports whether the verdict will no longer change except via
// an explicit manual override.
func (v Verdict) Committed() bool {
	return v != VerdictUndecided && v != ""
}

// CallStatus is the transport-level state of a call.
type CallStatus string

const (
	StatusPending    CallStatus = "PENDING"
	StatusRinging    CallStatus = "RINGING"
	StatusAnswered   CallStatus = "ANSWERED"
	StatusInProgress CallStatus = "IN_PROGRESS"
	StatusCompleted  CallStatus = "COMPLETED"
	StatusFailed     CallStatus = "FAILED"
	StatusBusy       CallStatus = "BUSY"
	StatusNoAnswer   CallStatus = "NO_ANSWER"
	StatusCanceled   CallStatus = "CANCELED"
)

// Terminal reports whether the status is absorbing.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// StatusFromProvider maps a provider transport-status string to a
// CallStatus. Unrecognized strings return ("", false) and leave the
// call's state untouched.
func StatusFromProvider(raw string) (CallStatus, bool) {
	switch raw {
	case "queued", "initiated":
		return StatusPending, true
	case "ringing":
		return StatusRinging, true
	case "answered":
		return StatusAnswered, true
	case "in-progress":
		return StatusInProgress, true
	case "completed":
		return StatusCompleted, true
	case "failed":
		return StatusFailed, true
	case "busy":
		return StatusBusy, true
	case "no-answer":
		return StatusNoAnswer, true
	case "canceled":
		return StatusCanceled, true
	default:
		return "", false
	}
}

// Strategy identifies one of the four detection strategy variants.
type Strategy string

const (
	StrategyTwilioAMD Strategy = "twilio_amd"
	StrategySIPAMD    Strategy = "sip_amd"
	StrategyWav2Vec   Strategy = "wav2vec"
	StrategyGemini    Strategy = "gemini"
)

// Valid reports whether s is one of the four fixed variants.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyTwilioAMD, StrategySIPAMD, StrategyWav2Vec, StrategyGemini:
		return true
	default:
		return false
	}
}

// AudioFormat tags inbound audio chunk encodings.
type AudioFormat string

const (
	FormatWAV AudioFormat = "wav"
	FormatPCM AudioFormat = "pcm"
)

// Valid reports whether f is a supported chunk format.
func (f AudioFormat) Valid() bool {
	return f == FormatWAV || f == FormatPCM
}

// Call is the authoritative record for one outbound call attempt.
type Call struct {
	ID            string     `json:"id"`
	To            string     `json:"to"`
	Strategy      Strategy   `json:"strategy"`
	Status        CallStatus `json:"status"`
	Verdict       Verdict    `json:"verdict"`
	Confidence    *float64   `json:"confidence,omitempty"`
	DurationSecs  *int       `json:"duration_seconds,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Event kinds recorded in the detection event log.
const (
	EventDetectionStart           = "detection_start"
	EventWebhookReceived          = "webhook_received"
	EventDetectionComplete        = "detection_complete"
	EventDetectionCompleteRetried = "detection_complete_after_retry"
	EventTimeout                  = "timeout"
	EventManualUpdate             = "manual_update"

	// EventRetryPrefix prefixes retry_1, retry_2, ... The count of events
	// carrying this prefix is the authoritative retry counter for a call.
	EventRetryPrefix = "retry_"
)

// DetectionEvent is one append-only event-log entry for a call.
type DetectionEvent struct {
	ID         int64           `json:"id"`
	CallID     string          `json:"call_id"`
	Kind       string          `json:"kind"`
	Verdict    *Verdict        `json:"verdict,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DetectionResult is the ephemeral output of one detector invocation.
// It is never persisted directly; the arbiter folds it into the Call and
// the event log.
type DetectionResult struct {
	Verdict    Verdict
	Confidence float64
	LatencyMS  *int64
	Raw        json.RawMessage
}

// DefaultConfidence is used when an evidence source cannot discriminate.
const DefaultConfidence = 0.5

// ProviderEvent is an inbound detection-relevant event after transport
// decoding, routed to the call's detector variant.
type ProviderEvent struct {
	CorrelationID   string
	DetectionStatus string // provider AMD vocabulary ("human", "machine_start", ...)
	CallStatus      string // provider transport vocabulary ("ringing", "completed", ...)
	EventType       string // SIP-platform event tag ("amd.human", ...)
	CallEnded       bool   // true when the call is already in a terminal state
	Confidence      *float64
	Raw             json.RawMessage
}
