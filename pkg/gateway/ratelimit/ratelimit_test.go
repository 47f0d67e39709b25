package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireRequest_TokenBucket(t *testing.T) {
	t.Parallel()
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		d := l.AcquireRequest("p1", now)
		if !d.Allowed {
			t.Fatalf("request %d denied within burst", i+1)
		}
		d.Permit.Release()
	}

	d := l.AcquireRequest("p1", now)
	if d.Allowed {
		t.Fatal("request allowed beyond burst")
	}
	if d.RetryAfter < 1 {
		t.Fatalf("RetryAfter = %d, want >= 1", d.RetryAfter)
	}

	// Tokens refill with time.
	d = l.AcquireRequest("p1", now.Add(1500*time.Millisecond))
	if !d.Allowed {
		t.Fatal("request denied after refill")
	}
	d.Permit.Release()
}

func TestAcquireRequest_PrincipalsAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(Config{RPS: 1, Burst: 1})
	now := time.Now()

	d := l.AcquireRequest("p1", now)
	if !d.Allowed {
		t.Fatal("p1 first request denied")
	}
	d.Permit.Release()

	if d := l.AcquireRequest("p1", now); d.Allowed {
		t.Fatal("p1 second request allowed beyond burst")
	}
	if d := l.AcquireRequest("p2", now); !d.Allowed {
		t.Fatal("p2 denied by p1's bucket")
	}
}

func TestAcquireRequest_ConcurrencyCap(t *testing.T) {
	t.Parallel()
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	first := l.AcquireRequest("p1", now)
	if !first.Allowed {
		t.Fatal("first request denied")
	}
	if d := l.AcquireRequest("p1", now); d.Allowed {
		t.Fatal("second concurrent request allowed over the cap")
	}

	first.Permit.Release()
	if d := l.AcquireRequest("p1", now); !d.Allowed {
		t.Fatal("request denied after release")
	}
}

func TestAcquireStream_ConcurrencyCap(t *testing.T) {
	t.Parallel()
	l := New(Config{MaxConcurrentStreams: 2})
	now := time.Now()

	a := l.AcquireStream("p1", now)
	b := l.AcquireStream("p1", now)
	if !a.Allowed || !b.Allowed {
		t.Fatal("streams denied within cap")
	}
	if d := l.AcquireStream("p1", now); d.Allowed {
		t.Fatal("third stream allowed over the cap")
	}

	a.Permit.Release()
	if d := l.AcquireStream("p1", now); !d.Allowed {
		t.Fatal("stream denied after release")
	}
}

func TestPermitRelease_Idempotent(t *testing.T) {
	t.Parallel()
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	d := l.AcquireRequest("p1", now)
	d.Permit.Release()
	d.Permit.Release() // second release must be a no-op

	if d := l.AcquireRequest("p1", now); !d.Allowed {
		t.Fatal("request denied; double release corrupted the semaphore")
	}
}

func TestEntryGC(t *testing.T) {
	t.Parallel()
	l := New(Config{MaxEntries: 2, EntryTTL: time.Minute})
	base := time.Now()

	l.AcquireRequest("old-1", base)
	l.AcquireRequest("old-2", base)

	// Both entries are past TTL when the map is full; the new principal
	// must still get a limiter.
	d := l.AcquireRequest("fresh", base.Add(2*time.Minute))
	if !d.Allowed {
		t.Fatal("fresh principal denied")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m["fresh"]; !ok {
		t.Fatal("fresh principal not tracked")
	}
	if len(l.m) > 2 {
		t.Fatalf("map size = %d, want bounded by MaxEntries", len(l.m))
	}
}

func TestPrincipalKeyFromAPIKey(t *testing.T) {
	t.Parallel()

	k1 := PrincipalKeyFromAPIKey("secret-a")
	k2 := PrincipalKeyFromAPIKey("secret-a")
	k3 := PrincipalKeyFromAPIKey("secret-b")
	if k1 != k2 {
		t.Fatal("key derivation not stable")
	}
	if k1 == k3 {
		t.Fatal("distinct keys collide")
	}
	if k1 == "secret-a" {
		t.Fatal("raw api key leaked into the map key")
	}
}
