// Package memstore provides an in-process store.Store backed by a mutex
// guarded map. It mirrors the scripted backend semantics field for field and
// suits tests and single-process deployments; it offers no cross-process
// coordination.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/herdcache/store"
)

type entry struct {
	value     []byte
	hasValue  bool
	lockUntil time.Time
	owner     string
	expireAt  time.Time // physical retention deadline
}

type Store struct {
	mu  sync.Mutex
	m   map[string]*entry
	now func() time.Time // drives physical expiry only
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{m: make(map[string]*entry), now: time.Now}
}

// NewWithClock pins the clock used for physical retention. Logical lock and
// validity state always derive from the now argument of each operation.
func NewWithClock(now func() time.Time) *Store {
	return &Store{m: make(map[string]*entry), now: now}
}

// live returns the entry for key, evicting it first if its physical
// retention lapsed. Callers must hold s.mu.
func (s *Store) live(key string) *entry {
	e, ok := s.m[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.m, key)
		return nil
	}
	return e
}

func snapshot(e *entry) store.Record {
	if e == nil {
		return store.Record{}
	}
	rec := store.Record{LockUntil: e.lockUntil, Owner: e.owner, HasValue: e.hasValue}
	if e.hasValue {
		rec.Value = append([]byte(nil), e.value...)
	}
	return rec
}

func (s *Store) ReadAndLock(_ context.Context, key string, now time.Time, owner string, until time.Time, physTTL time.Duration) (store.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	rec := snapshot(e)
	if e == nil {
		s.m[key] = &entry{
			lockUntil: until,
			owner:     owner,
			expireAt:  s.now().Add(physTTL),
		}
		return rec, true, nil
	}
	if e.lockUntil.After(now) {
		return rec, false, nil
	}
	e.lockUntil = until
	e.owner = owner
	return rec, true, nil
}

func (s *Store) WriteResult(_ context.Context, key, owner string, value []byte, validUntil time.Time, physTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.owner != owner {
		return false, nil
	}
	e.value = append([]byte(nil), value...)
	e.hasValue = true
	e.lockUntil = validUntil
	e.owner = ""
	e.expireAt = s.now().Add(physTTL)
	return true, nil
}

func (s *Store) Unlock(_ context.Context, key, owner string, now time.Time, physTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.owner != owner {
		return nil
	}
	e.lockUntil = now
	e.owner = ""
	e.expireAt = s.now().Add(physTTL)
	return nil
}

func (s *Store) TagDeleted(_ context.Context, key string, now time.Time, physTTL time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil
	}
	// a live lock keeps its owner; the in-flight refresh settles the record
	if e.owner == "" || !e.lockUntil.After(now) {
		e.lockUntil = now
		e.owner = ""
	}
	e.expireAt = s.now().Add(physTTL)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Store) Close(context.Context) error { return nil }
