// Package audiobuf accumulates small, irregular inbound audio chunks
// into bounded per-utterance batches for the audio-classifier
// strategies.
package audiobuf

import (
	"sync"
)

// Default batch bounds: roughly 2 and 5 seconds of 8kHz 16-bit mono
// audio. A classification never fires below Min; a batch never exceeds
// Max (excess is dropped, not deferred).
const (
	DefaultMinBatchBytes = 32_000
	DefaultMaxBatchBytes = 80_000
)

// Pipeline owns one growable buffer per call. Buffers for unrelated
// calls never interact; the map is guarded only for key access.
type Pipeline struct {
	min int
	max int

	mu   sync.Mutex
	bufs map[string][]byte
}

// New creates a pipeline with the given batch bounds. Non-positive
// bounds fall back to the defaults.
func New(minBatch, maxBatch int) *Pipeline {
	if minBatch <= 0 {
		minBatch = DefaultMinBatchBytes
	}
	if maxBatch < minBatch {
		maxBatch = DefaultMaxBatchBytes
	}
	return &Pipeline{
		min:  minBatch,
		max:  maxBatch,
		bufs: make(map[string][]byte),
	}
}

// Append adds one chunk to a call's buffer. When the accumulated size
// reaches the minimum batch size it returns the batch capped at the
// maximum size and discards the call's buffer entirely; a fresh
// accumulation cycle begins with the next chunk. Below the minimum it
// returns (nil, false).
func (p *Pipeline) Append(callID string, chunk []byte) (batch []byte, ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := append(p.bufs[callID], chunk...)
	if len(buf) < p.min {
		p.bufs[callID] = buf
		return nil, false
	}

	delete(p.bufs, callID)
	if len(buf) > p.max {
		buf = buf[:p.max]
	}
	return buf, true
}

// Pending returns the number of buffered bytes for a call.
func (p *Pipeline) Pending(callID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bufs[callID])
}

// Drop discards a call's buffer, if any. Used when a call reaches a
// terminal state with audio still accumulating.
func (p *Pipeline) Drop(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.bufs, callID)
}
