// Package store defines the record model and the atomic operations a backing
// key-value store must provide for stampede-safe caching.
//
// Every conditional mutation must execute atomically with respect to other
// callers of the same key (server-side script, single lock, or equivalent).
// Adapters only translate these operations; caching policy lives above them.
package store

import (
	"context"
	"time"
)

// Record is the state of a cache key as observed by ReadAndLock, before any
// mutation that call itself performed.
//
// A record carries three fields:
//
//	value     - opaque framed bytes written by WriteResult
//	lockUntil - logical deadline; while in the future it marks either a valid
//	            value (no owner) or a held refresh lock (owner set)
//	owner     - fencing token of the caller holding the refresh lock
type Record struct {
	Value     []byte
	HasValue  bool
	LockUntil time.Time // zero when the field is absent
	Owner     string    // empty when no lock is held
}

// Store is the adapter contract against the shared key-value backend.
//
// All operations take logical time as an argument so the caching layer's
// clock is the single authority for lock and validity decisions; the store
// clock only drives physical garbage collection.
type Store interface {
	// ReadAndLock returns the record state for key and, when the record is
	// absent or logically expired (lockUntil <= now), atomically claims the
	// refresh lock by setting lockUntil=until and owner=owner. The returned
	// record is the pre-claim state; acquired reports whether the claim
	// happened. Creating a record arms physTTL so an abandoned skeleton is
	// garbage collected; claiming an existing record leaves its physical
	// retention alone.
	ReadAndLock(ctx context.Context, key string, now time.Time, owner string, until time.Time, physTTL time.Duration) (rec Record, acquired bool, err error)

	// WriteResult stores value and marks it valid until validUntil, but only
	// if owner still holds the refresh lock. The owner field is cleared and
	// physTTL re-armed. wrote=false means the lock moved on and the write
	// was discarded without mutation.
	WriteResult(ctx context.Context, key, owner string, value []byte, validUntil time.Time, physTTL time.Duration) (wrote bool, err error)

	// Unlock releases the refresh lock by expiring it at now, but only if
	// owner still holds it. Used after loader failure so waiters retry
	// promptly instead of sitting out the rest of the lease.
	Unlock(ctx context.Context, key, owner string, now time.Time, physTTL time.Duration) error

	// TagDeleted marks an existing record logically expired as of now and
	// shortens its physical retention to physTTL. A still-live refresh lock
	// is left in place; an expired one is cleared. Absent keys stay absent.
	TagDeleted(ctx context.Context, key string, now time.Time, physTTL time.Duration) error

	// Delete removes the record physically.
	Delete(ctx context.Context, key string) error

	// Close releases adapter resources.
	Close(ctx context.Context) error
}
