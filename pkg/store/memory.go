package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/outdial/amd-gateway/pkg/engine"
)

// Memory is an in-process Store used by tests and DSN-less dev runs.
// Per-call serialization is a keyed mutex; the map itself is guarded
// separately so unrelated calls never contend.
type Memory struct {
	mu     sync.Mutex
	calls  map[string]*engine.Call
	events map[string][]engine.DetectionEvent
	byCorr map[string]string
	locks  map[string]*sync.Mutex
	seq    int64

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		calls:  make(map[string]*engine.Call),
		events: make(map[string][]engine.DetectionEvent),
		byCorr: make(map[string]string),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (m *Memory) SetNowFunc(now func() time.Time) {
	m.now = now
}

func (m *Memory) CreateCall(ctx context.Context, call *engine.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[call.ID]; ok {
		return engine.NewConflictError("call already exists")
	}
	if call.CorrelationID != "" {
		if _, ok := m.byCorr[call.CorrelationID]; ok {
			return engine.NewConflictError("correlation id already assigned")
		}
	}

	now := m.now()
	cp := *call
	if cp.Status == "" {
		cp.Status = engine.StatusPending
	}
	if cp.Verdict == "" {
		cp.Verdict = engine.VerdictUndecided
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.calls[cp.ID] = &cp
	if cp.CorrelationID != "" {
		m.byCorr[cp.CorrelationID] = cp.ID
	}

	*call = cp
	return nil
}

func (m *Memory) GetCall(ctx context.Context, id string) (*engine.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[id]
	if !ok {
		return nil, engine.NewNotFoundError("call not found")
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetCallByCorrelationID(ctx context.Context, corrID string) (*engine.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byCorr[corrID]
	if !ok {
		return nil, engine.NewNotFoundError("call not found")
	}
	cp := *m.calls[id]
	return &cp, nil
}

func (m *Memory) ListCalls(ctx context.Context, limit int) ([]engine.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]engine.Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListEvents(ctx context.Context, callID string) ([]engine.DetectionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[callID]; !ok {
		return nil, engine.NewNotFoundError("call not found")
	}
	evs := m.events[callID]
	out := make([]engine.DetectionEvent, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) WithCall(ctx context.Context, callID string, fn func(tx CallTx) error) error {
	m.mu.Lock()
	if _, ok := m.calls[callID]; !ok {
		m.mu.Unlock()
		return engine.NewNotFoundError("call not found")
	}
	lock, ok := m.locks[callID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[callID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	return fn(&memoryTx{store: m, callID: callID})
}

func (m *Memory) Close() {}

type memoryTx struct {
	store  *Memory
	callID string
}

func (tx *memoryTx) Call() *engine.Call {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	cp := *tx.store.calls[tx.callID]
	return &cp
}

func (tx *memoryTx) SetStatus(status engine.CallStatus, durationSecs *int) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	c := tx.store.calls[tx.callID]
	c.Status = status
	if durationSecs != nil {
		d := *durationSecs
		c.DurationSecs = &d
	}
	c.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memoryTx) SetVerdict(v engine.Verdict, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return engine.NewInvalidRequestErrorWithParam("confidence must be in [0,1]", "confidence")
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	c := tx.store.calls[tx.callID]
	c.Verdict = v
	conf := confidence
	c.Confidence = &conf
	c.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memoryTx) SetCorrelationID(corrID string) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	c := tx.store.calls[tx.callID]
	if c.CorrelationID != "" && c.CorrelationID != corrID {
		return engine.NewConflictError("correlation id is immutable once set")
	}
	if existing, ok := tx.store.byCorr[corrID]; ok && existing != c.ID {
		return engine.NewConflictError("correlation id already assigned")
	}
	c.CorrelationID = corrID
	tx.store.byCorr[corrID] = c.ID
	c.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memoryTx) AppendEvent(kind string, v *engine.Verdict, confidence *float64, payload json.RawMessage) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	tx.store.seq++
	ev := engine.DetectionEvent{
		ID:        tx.store.seq,
		CallID:    tx.callID,
		Kind:      kind,
		CreatedAt: tx.store.now(),
	}
	if v != nil {
		vv := *v
		ev.Verdict = &vv
	}
	if confidence != nil {
		cc := *confidence
		ev.Confidence = &cc
	}
	if len(payload) > 0 {
		ev.Payload = append(json.RawMessage(nil), payload...)
	}
	tx.store.events[tx.callID] = append(tx.store.events[tx.callID], ev)
	return nil
}

func (tx *memoryTx) CountEvents(kindPrefix string) (int, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	n := 0
	for _, ev := range tx.store.events[tx.callID] {
		if strings.HasPrefix(ev.Kind, kindPrefix) {
			n++
		}
	}
	return n, nil
}
