// Package store persists calls and their append-only detection event
// logs. Two implementations exist: Postgres (pgx) for production and an
// in-memory store for tests and DSN-less dev runs. Both serialize all
// read-modify-write access to a single call through WithCall.
package store

import (
	"context"
	"encoding/json"

	"github.com/outdial/amd-gateway/pkg/engine"
)

// Store is the persistence boundary of the arbitration engine.
type Store interface {
	// CreateCall inserts a new call record.
	CreateCall(ctx context.Context, call *engine.Call) error

	// GetCall returns the call with the given identity.
	GetCall(ctx context.Context, id string) (*engine.Call, error)

	// GetCallByCorrelationID returns the call the provider knows by corrID.
	GetCallByCorrelationID(ctx context.Context, corrID string) (*engine.Call, error)

	// ListCalls returns up to limit calls, newest first.
	ListCalls(ctx context.Context, limit int) ([]engine.Call, error)

	// ListEvents returns a call's event log ordered by timestamp.
	ListEvents(ctx context.Context, callID string) ([]engine.DetectionEvent, error)

	// WithCall runs fn with exclusive access to one call's record and
	// event log. Concurrent invocations for the same call are serialized;
	// calls are fully independent of each other. Transient store
	// conflicts are retried transparently.
	WithCall(ctx context.Context, callID string, fn func(tx CallTx) error) error

	// Close releases the store's resources.
	Close()
}

// CallTx is the per-call critical section handed to WithCall callbacks.
type CallTx interface {
	// Call returns a snapshot of the locked call.
	Call() *engine.Call

	// SetStatus updates the transport status and, when non-nil, the
	// call duration.
	SetStatus(status engine.CallStatus, durationSecs *int) error

	// SetVerdict commits a verdict and confidence.
	SetVerdict(v engine.Verdict, confidence float64) error

	// SetCorrelationID records the provider's identifier for this call.
	SetCorrelationID(corrID string) error

	// AppendEvent appends one event-log entry.
	AppendEvent(kind string, v *engine.Verdict, confidence *float64, payload json.RawMessage) error

	// CountEvents counts events whose kind starts with kindPrefix.
	CountEvents(kindPrefix string) (int, error)
}
