package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/outdial/amd-gateway/pkg/engine"
)

func newCall(id, corrID string) *engine.Call {
	return &engine.Call{
		ID:            id,
		To:            "+15550001111",
		Strategy:      engine.StrategyTwilioAMD,
		CorrelationID: corrID,
	}
}

func mustCreate(t *testing.T, m *Memory, call *engine.Call) {
	t.Helper()
	if err := m.CreateCall(t.Context(), call); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	call := newCall("c1", "CA123")
	mustCreate(t, m, call)

	if call.Status != engine.StatusPending || call.Verdict != engine.VerdictUndecided {
		t.Fatalf("defaults not applied: status=%s verdict=%s", call.Status, call.Verdict)
	}
	if call.CreatedAt.IsZero() || call.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	got, err := m.GetCall(t.Context(), "c1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.To != call.To {
		t.Fatalf("GetCall returned %+v", got)
	}

	byCorr, err := m.GetCallByCorrelationID(t.Context(), "CA123")
	if err != nil {
		t.Fatalf("GetCallByCorrelationID: %v", err)
	}
	if byCorr.ID != "c1" {
		t.Fatalf("correlation lookup returned %s", byCorr.ID)
	}
}

func TestMemoryCreateConflicts(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	mustCreate(t, m, newCall("c1", "CA123"))

	var engErr *engine.Error
	if err := m.CreateCall(t.Context(), newCall("c1", "")); !errors.As(err, &engErr) || engErr.Type != engine.ErrConflict {
		t.Fatalf("duplicate id error = %v, want conflict", err)
	}
	if err := m.CreateCall(t.Context(), newCall("c2", "CA123")); !errors.As(err, &engErr) || engErr.Type != engine.ErrConflict {
		t.Fatalf("duplicate correlation id error = %v, want conflict", err)
	}
}

func TestMemoryNotFound(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	var engErr *engine.Error
	if _, err := m.GetCall(t.Context(), "nope"); !errors.As(err, &engErr) || engErr.Type != engine.ErrNotFound {
		t.Fatalf("GetCall unknown = %v, want not found", err)
	}
	if _, err := m.GetCallByCorrelationID(t.Context(), "nope"); !errors.As(err, &engErr) || engErr.Type != engine.ErrNotFound {
		t.Fatalf("GetCallByCorrelationID unknown = %v, want not found", err)
	}
	if _, err := m.ListEvents(t.Context(), "nope"); !errors.As(err, &engErr) || engErr.Type != engine.ErrNotFound {
		t.Fatalf("ListEvents unknown = %v, want not found", err)
	}
	err := m.WithCall(t.Context(), "nope", func(tx CallTx) error { return nil })
	if !errors.As(err, &engErr) || engErr.Type != engine.ErrNotFound {
		t.Fatalf("WithCall unknown = %v, want not found", err)
	}
}

func TestMemorySetVerdictValidatesConfidence(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	mustCreate(t, m, newCall("c1", ""))

	err := m.WithCall(t.Context(), "c1", func(tx CallTx) error {
		return tx.SetVerdict(engine.VerdictHuman, 1.2)
	})
	var engErr *engine.Error
	if !errors.As(err, &engErr) || engErr.Type != engine.ErrInvalidRequest {
		t.Fatalf("out-of-range confidence = %v, want invalid request", err)
	}
}

func TestMemoryCorrelationIDImmutable(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	mustCreate(t, m, newCall("c1", ""))
	mustCreate(t, m, newCall("c2", "CA2"))

	if err := m.WithCall(t.Context(), "c1", func(tx CallTx) error {
		return tx.SetCorrelationID("CA1")
	}); err != nil {
		t.Fatalf("first SetCorrelationID: %v", err)
	}
	// Same value again is a no-op.
	if err := m.WithCall(t.Context(), "c1", func(tx CallTx) error {
		return tx.SetCorrelationID("CA1")
	}); err != nil {
		t.Fatalf("idempotent SetCorrelationID: %v", err)
	}

	var engErr *engine.Error
	err := m.WithCall(t.Context(), "c1", func(tx CallTx) error {
		return tx.SetCorrelationID("CA-other")
	})
	if !errors.As(err, &engErr) || engErr.Type != engine.ErrConflict {
		t.Fatalf("rewrite correlation id = %v, want conflict", err)
	}
	err = m.WithCall(t.Context(), "c2", func(tx CallTx) error {
		return tx.SetCorrelationID("CA1")
	})
	if !errors.As(err, &engErr) || engErr.Type != engine.ErrConflict {
		t.Fatalf("steal correlation id = %v, want conflict", err)
	}
}

func TestMemoryEventCounting(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	mustCreate(t, m, newCall("c1", ""))

	err := m.WithCall(t.Context(), "c1", func(tx CallTx) error {
		for _, kind := range []string{
			engine.EventDetectionStart,
			engine.EventWebhookReceived,
			engine.EventWebhookReceived,
			"retry_1",
			"retry_2",
			engine.EventDetectionComplete,
		} {
			if err := tx.AppendEvent(kind, nil, nil, json.RawMessage(`{}`)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithCall: %v", err)
	}

	err = m.WithCall(t.Context(), "c1", func(tx CallTx) error {
		retries, err := tx.CountEvents(engine.EventRetryPrefix)
		if err != nil {
			return err
		}
		if retries != 2 {
			t.Errorf("CountEvents(retry_) = %d, want 2", retries)
		}
		webhooks, err := tx.CountEvents(engine.EventWebhookReceived)
		if err != nil {
			return err
		}
		if webhooks != 2 {
			t.Errorf("CountEvents(webhook_received) = %d, want 2", webhooks)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithCall: %v", err)
	}

	events, err := m.ListEvents(t.Context(), "c1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("ListEvents = %d entries, want 6", len(events))
	}
}

func TestMemoryListCallsNewestFirst(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetNowFunc(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	for i := 0; i < 5; i++ {
		mustCreate(t, m, newCall(fmt.Sprintf("c%d", i), ""))
	}

	calls, err := m.ListCalls(t.Context(), 3)
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("ListCalls = %d, want limit 3", len(calls))
	}
	if calls[0].ID != "c4" || calls[2].ID != "c2" {
		t.Fatalf("order = [%s %s %s], want newest first", calls[0].ID, calls[1].ID, calls[2].ID)
	}
}

func TestMemoryWithCallSerializes(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	mustCreate(t, m, newCall("c1", ""))

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithCall(t.Context(), "c1", func(tx CallTx) error {
				n, err := tx.CountEvents(engine.EventRetryPrefix)
				if err != nil {
					return err
				}
				return tx.AppendEvent(fmt.Sprintf("%s%d", engine.EventRetryPrefix, n+1), nil, nil, nil)
			})
		}()
	}
	wg.Wait()

	err := m.WithCall(t.Context(), "c1", func(tx CallTx) error {
		n, err := tx.CountEvents(engine.EventRetryPrefix)
		if err != nil {
			return err
		}
		if n != workers {
			t.Errorf("retry events = %d, want %d (read-modify-write must be serialized)", n, workers)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithCall: %v", err)
	}
}
