package herdcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/herdcache/internal/wire"
	st "github.com/unkn0wn-root/herdcache/store"
)

// outcome classifies one read-and-maybe-lock round trip.
type outcome int

const (
	// outcomeOwner: this caller now holds the refresh lock and must settle
	// the record (run the loader, or hand it to a background refresh).
	outcomeOwner outcome = iota
	// outcomeHit: the record is logically valid; serve it, no loader.
	outcomeHit
	// outcomeHeld: another owner is refreshing; serve stale or poll.
	outcomeHeld
)

// frameState is the decoded view of a record's value field.
type frameState struct {
	ok      bool   // a well-formed frame exists
	present bool   // the frame carries a value payload
	payload []byte // codec bytes when present
	corrupt bool   // value bytes exist but are not a valid frame
}

type decision struct {
	outcome outcome
	frame   frameState
}

// coordinator owns lock acquisition, release and fencing against the store.
// Values stay opaque frames here; the codec is a client concern.
//
// The three outcomes map directly onto the store reply: a successful claim is
// outcomeOwner regardless of what the record held before (absent, expired, or
// tagged deleted - they differ only in the stale frame carried along); a
// refused claim with no owner on record is a plain valid hit; a refused claim
// with an owner is live contention. The acquired flag from the atomic
// primitive is the sole authority - the state is never re-inspected.
type coordinator struct {
	store st.Store

	lockTTL        time.Duration
	lockTTLJitter  time.Duration
	staleRetention time.Duration

	now   func() time.Time
	randf func() float64
}

// maxLockTTL bounds how long any acquired lease can live. Physical retention
// adds it so a record never outlives its slowest legitimate writer.
func (co *coordinator) maxLockTTL() time.Duration {
	return co.lockTTL + co.lockTTLJitter
}

// nextLockUntil picks a jittered lease deadline so competing owners across
// keys do not expire in lockstep.
func (co *coordinator) nextLockUntil(now time.Time) time.Time {
	j := time.Duration(co.randf() * float64(co.lockTTLJitter))
	return now.Add(co.lockTTL + j)
}

func (co *coordinator) decide(ctx context.Context, key, owner string) (decision, error) {
	now := co.now()
	until := co.nextLockUntil(now)
	// a skeleton created by this claim must survive the lease plus the
	// stale window, then vanish if its owner never writes
	skeletonTTL := co.maxLockTTL() + co.staleRetention

	rec, acquired, err := co.store.ReadAndLock(ctx, key, now, owner, until, skeletonTTL)
	if err != nil {
		return decision{}, &StoreError{Op: "read_lock", Key: key, Err: err}
	}

	d := decision{frame: decodeFrame(rec)}
	switch {
	case acquired:
		d.outcome = outcomeOwner
	case rec.Owner == "":
		d.outcome = outcomeHit
	default:
		d.outcome = outcomeHeld
	}
	return d, nil
}

func decodeFrame(rec st.Record) frameState {
	if !rec.HasValue {
		return frameState{}
	}
	present, payload, err := wire.Decode(rec.Value)
	if err != nil {
		return frameState{corrupt: true}
	}
	return frameState{ok: true, present: present, payload: payload}
}

// writeValue settles the record under owner's fencing token. wrote=false
// means a newer owner took over and this result lost the race.
func (co *coordinator) writeValue(ctx context.Context, key, owner string, frame []byte, validFor time.Duration) (bool, error) {
	now := co.now()
	validUntil := now.Add(validFor)
	physTTL := validFor + co.staleRetention + co.maxLockTTL()

	wrote, err := co.store.WriteResult(ctx, key, owner, frame, validUntil, physTTL)
	if err != nil {
		return false, &StoreError{Op: "write_result", Key: key, Err: err}
	}
	return wrote, nil
}

// release hands the lock back after a failed load so waiters retry promptly
// instead of sitting out the rest of the lease. Fencing-checked: if the
// owner no longer matches, the store skips it.
func (co *coordinator) release(ctx context.Context, key, owner string) error {
	if err := co.store.Unlock(ctx, key, owner, co.now(), co.staleRetention); err != nil {
		return &StoreError{Op: "unlock", Key: key, Err: err}
	}
	return nil
}

// tagDeleted flips the record to logically expired without clobbering a live
// refresh lock. Idempotent: repeating it moves the deadline to a new "now",
// which is already in the past for any later read.
func (co *coordinator) tagDeleted(ctx context.Context, key string) error {
	if err := co.store.TagDeleted(ctx, key, co.now(), co.staleRetention); err != nil {
		return &StoreError{Op: "tag_deleted", Key: key, Err: err}
	}
	return nil
}

func (co *coordinator) delete(ctx context.Context, key string) error {
	if err := co.store.Delete(ctx, key); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}
