package memstore

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/herdcache/store"
)

// ---- test scaffolding ----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const physTTL = time.Minute

func mustAcquire(t *testing.T, s *Store, key, owner string, now, until time.Time) store.Record {
	t.Helper()
	rec, acquired, err := s.ReadAndLock(context.Background(), key, now, owner, until, physTTL)
	if err != nil {
		t.Fatalf("ReadAndLock error: %v", err)
	}
	if !acquired {
		t.Fatalf("expected to acquire lock on %q", key)
	}
	return rec
}

func mustWrite(t *testing.T, s *Store, key, owner string, value []byte, validUntil time.Time) {
	t.Helper()
	wrote, err := s.WriteResult(context.Background(), key, owner, value, validUntil, physTTL)
	if err != nil {
		t.Fatalf("WriteResult error: %v", err)
	}
	if !wrote {
		t.Fatalf("expected write for owner %q to land", owner)
	}
}

// ---- tests ----

func TestReadAndLockCreatesSkeleton(t *testing.T) {
	s := New()
	rec := mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))

	if rec.HasValue || !rec.LockUntil.IsZero() || rec.Owner != "" {
		t.Fatalf("pre-claim state of absent key must be empty, got %+v", rec)
	}

	// second read observes the claim and must not re-acquire
	rec2, acquired, err := s.ReadAndLock(context.Background(), "k", base, "B", base.Add(3*time.Second), physTTL)
	if err != nil {
		t.Fatalf("ReadAndLock error: %v", err)
	}
	if acquired {
		t.Fatal("B must not steal a live lock")
	}
	if rec2.Owner != "A" {
		t.Fatalf("observed owner: got %q want %q", rec2.Owner, "A")
	}
}

func TestReadAndLockValidValueIsNotClaimed(t *testing.T) {
	s := New()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))
	mustWrite(t, s, "k", "A", []byte("v1"), base.Add(time.Minute))

	rec, acquired, err := s.ReadAndLock(context.Background(), "k", base.Add(time.Second), "B", base.Add(4*time.Second), physTTL)
	if err != nil {
		t.Fatalf("ReadAndLock error: %v", err)
	}
	if acquired {
		t.Fatal("valid record must not be claimed")
	}
	if rec.Owner != "" {
		t.Fatalf("settled record must have no owner, got %q", rec.Owner)
	}
	if !rec.HasValue || !bytes.Equal(rec.Value, []byte("v1")) {
		t.Fatalf("value mismatch: %+v", rec)
	}
}

func TestReadAndLockClaimsExpiredRecord(t *testing.T) {
	s := New()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))
	mustWrite(t, s, "k", "A", []byte("v1"), base.Add(time.Minute))

	// one minute later the value is logically expired; the claim succeeds
	// and the stale bytes ride along in the pre-claim state
	later := base.Add(time.Minute)
	rec := mustAcquire(t, s, "k", "B", later, later.Add(3*time.Second))
	if !rec.HasValue || !bytes.Equal(rec.Value, []byte("v1")) {
		t.Fatalf("expected stale value in pre-claim state, got %+v", rec)
	}
	if rec.Owner != "" {
		t.Fatalf("pre-claim owner: got %q want none", rec.Owner)
	}
}

func TestReadAndLockClaimsAbandonedLock(t *testing.T) {
	s := New()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))

	// A dies without writing; after the lease passes, B takes over
	later := base.Add(4 * time.Second)
	rec := mustAcquire(t, s, "k", "B", later, later.Add(3*time.Second))
	if rec.Owner != "A" {
		t.Fatalf("pre-claim state must show the abandoned owner, got %q", rec.Owner)
	}
}

func TestWriteResultFencing(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))

	// B takes over after A's lease lapsed, then writes
	later := base.Add(4 * time.Second)
	mustAcquire(t, s, "k", "B", later, later.Add(3*time.Second))
	mustWrite(t, s, "k", "B", []byte("fresh"), later.Add(time.Minute))

	// A's late write must be a no-op
	wrote, err := s.WriteResult(ctx, "k", "A", []byte("stale"), later.Add(time.Hour), physTTL)
	if err != nil {
		t.Fatalf("WriteResult error: %v", err)
	}
	if wrote {
		t.Fatal("stale owner write must be discarded")
	}

	rec, acquired, err := s.ReadAndLock(ctx, "k", later.Add(time.Second), "C", later.Add(5*time.Second), physTTL)
	if err != nil {
		t.Fatalf("ReadAndLock error: %v", err)
	}
	if acquired {
		t.Fatal("B's fresh value must still be valid")
	}
	if !bytes.Equal(rec.Value, []byte("fresh")) {
		t.Fatalf("value: got %q want %q", rec.Value, "fresh")
	}
}

func TestWriteResultClearsOwner(t *testing.T) {
	s := New()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))
	mustWrite(t, s, "k", "A", []byte("v"), base.Add(time.Minute))

	s.mu.Lock()
	e := s.m["k"]
	s.mu.Unlock()
	if e.owner != "" {
		t.Fatalf("owner must be cleared after write, got %q", e.owner)
	}
	if !e.lockUntil.Equal(base.Add(time.Minute)) {
		t.Fatalf("lockUntil must become the validity deadline, got %v", e.lockUntil)
	}
}

func TestUnlockExpiresOwnLockOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))

	// wrong owner: untouched
	if err := s.Unlock(ctx, "k", "B", base.Add(time.Second), physTTL); err != nil {
		t.Fatalf("Unlock error: %v", err)
	}
	s.mu.Lock()
	owner := s.m["k"].owner
	s.mu.Unlock()
	if owner != "A" {
		t.Fatalf("foreign unlock must not touch the lock, owner got %q", owner)
	}

	// right owner: lock expires now, so the next read can claim immediately
	relAt := base.Add(time.Second)
	if err := s.Unlock(ctx, "k", "A", relAt, physTTL); err != nil {
		t.Fatalf("Unlock error: %v", err)
	}
	mustAcquire(t, s, "k", "B", relAt, relAt.Add(3*time.Second))
}

func TestTagDeleted(t *testing.T) {
	ctx := context.Background()

	t.Run("absent key stays absent", func(t *testing.T) {
		s := New()
		if err := s.TagDeleted(ctx, "nope", base, physTTL); err != nil {
			t.Fatalf("TagDeleted error: %v", err)
		}
		s.mu.Lock()
		_, ok := s.m["nope"]
		s.mu.Unlock()
		if ok {
			t.Fatal("TagDeleted must not create records")
		}
	})

	t.Run("valid value becomes stale", func(t *testing.T) {
		s := New()
		mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))
		mustWrite(t, s, "k", "A", []byte("v"), base.Add(time.Hour))

		tagAt := base.Add(time.Second)
		if err := s.TagDeleted(ctx, "k", tagAt, physTTL); err != nil {
			t.Fatalf("TagDeleted error: %v", err)
		}
		// the very next read claims the refresh and still sees the stale bytes
		rec := mustAcquire(t, s, "k", "B", tagAt, tagAt.Add(3*time.Second))
		if !bytes.Equal(rec.Value, []byte("v")) {
			t.Fatalf("stale value lost on tag: %+v", rec)
		}
	})

	t.Run("live lock survives", func(t *testing.T) {
		s := New()
		mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))

		if err := s.TagDeleted(ctx, "k", base.Add(time.Second), physTTL); err != nil {
			t.Fatalf("TagDeleted error: %v", err)
		}
		s.mu.Lock()
		e := s.m["k"]
		s.mu.Unlock()
		if e.owner != "A" {
			t.Fatalf("live lock clobbered: owner got %q want %q", e.owner, "A")
		}
		if !e.lockUntil.Equal(base.Add(3 * time.Second)) {
			t.Fatalf("live lease moved: got %v", e.lockUntil)
		}
	})

	t.Run("fencing-expired lock is cleared", func(t *testing.T) {
		s := New()
		mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))

		tagAt := base.Add(5 * time.Second) // past A's lease
		if err := s.TagDeleted(ctx, "k", tagAt, physTTL); err != nil {
			t.Fatalf("TagDeleted error: %v", err)
		}
		s.mu.Lock()
		e := s.m["k"]
		s.mu.Unlock()
		if e.owner != "" {
			t.Fatalf("dead lock must be cleared, owner got %q", e.owner)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		s := New()
		mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))
		mustWrite(t, s, "k", "A", []byte("v"), base.Add(time.Hour))

		tagAt := base.Add(time.Second)
		if err := s.TagDeleted(ctx, "k", tagAt, physTTL); err != nil {
			t.Fatalf("TagDeleted error: %v", err)
		}
		if err := s.TagDeleted(ctx, "k", tagAt, physTTL); err != nil {
			t.Fatalf("TagDeleted error: %v", err)
		}
		rec := mustAcquire(t, s, "k", "B", tagAt, tagAt.Add(3*time.Second))
		if !bytes.Equal(rec.Value, []byte("v")) {
			t.Fatalf("double tag changed observable state: %+v", rec)
		}
	})
}

func TestDelete(t *testing.T) {
	s := New()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))
	mustWrite(t, s, "k", "A", []byte("v"), base.Add(time.Hour))

	if err := s.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	rec := mustAcquire(t, s, "k", "B", base.Add(time.Second), base.Add(4*time.Second))
	if rec.HasValue {
		t.Fatalf("deleted key must read as absent, got %+v", rec)
	}
}

func TestPhysicalRetention(t *testing.T) {
	clk := newFakeClock(base)
	s := NewWithClock(clk.Now)

	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))
	mustWrite(t, s, "k", "A", []byte("v"), base.Add(30*time.Second))

	// within retention the stale value is still there
	clk.Advance(physTTL - time.Second)
	now := base.Add(physTTL - time.Second)
	rec := mustAcquire(t, s, "k", "B", now, now.Add(3*time.Second))
	if !rec.HasValue {
		t.Fatal("value must survive until physical retention lapses")
	}

	// B never writes; past retention the whole record is gone
	clk.Advance(2 * physTTL)
	now = now.Add(2 * physTTL)
	rec = mustAcquire(t, s, "k", "C", now, now.Add(3*time.Second))
	if rec.HasValue || rec.Owner != "" {
		t.Fatalf("record must be garbage collected, got %+v", rec)
	}
}

func TestValueBytesAreCopied(t *testing.T) {
	s := New()
	mustAcquire(t, s, "k", "A", base, base.Add(3*time.Second))

	buf := []byte("orig")
	mustWrite(t, s, "k", "A", buf, base.Add(time.Hour))
	buf[0] = 'X' // caller reuses its buffer

	rec, _, err := s.ReadAndLock(context.Background(), "k", base.Add(time.Second), "B", base.Add(4*time.Second), physTTL)
	if err != nil {
		t.Fatalf("ReadAndLock error: %v", err)
	}
	if !bytes.Equal(rec.Value, []byte("orig")) {
		t.Fatalf("stored bytes aliased caller buffer: got %q", rec.Value)
	}
	rec.Value[0] = 'Y' // and the returned slice must not alias the store
	rec2, _, _ := s.ReadAndLock(context.Background(), "k", base.Add(2*time.Second), "C", base.Add(5*time.Second), physTTL)
	if !bytes.Equal(rec2.Value, []byte("orig")) {
		t.Fatalf("returned bytes aliased store: got %q", rec2.Value)
	}
}
