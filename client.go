package herdcache

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	c "github.com/unkn0wn-root/herdcache/codec"
	"github.com/unkn0wn-root/herdcache/internal/wire"
)

const (
	defaultLockTTL        = 3 * time.Second
	defaultLockTTLJitter  = time.Second
	defaultRetryInterval  = 100 * time.Millisecond
	defaultRetryJitter    = 50 * time.Millisecond
	defaultMaxRetries     = 60
	defaultEmptyTTL       = time.Minute
	defaultStaleRetention = 10 * time.Second
	defaultTTLJitterRatio = 0.1
)

type client[V any] struct {
	codec c.Codec[V]
	coord *coordinator
	log   Logger
	hooks Hooks

	strong bool

	retryInterval time.Duration
	retryJitter   time.Duration
	maxRetries    int
	emptyTTL      time.Duration
	jitterRatio   float64

	noEmptyCache bool
	noRead       bool
	noDelete     bool

	randf      func() float64
	ownerToken func() string

	refreshWg sync.WaitGroup
	closeOnce sync.Once
}

func newClient[V any](opts Options[V]) (*client[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("herdcache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("herdcache: codec is required")
	}
	if opts.LockTTL < 0 || opts.LockTTLJitter < 0 || opts.LockRetryInterval < 0 ||
		opts.LockRetryJitter < 0 || opts.EmptyTTL < 0 || opts.StaleRetention < 0 {
		return nil, fmt.Errorf("herdcache: durations must not be negative")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("herdcache: MaxRetries must not be negative")
	}
	if opts.TTLJitterRatio < 0 || opts.TTLJitterRatio >= 1 {
		return nil, fmt.Errorf("herdcache: TTLJitterRatio must be in [0, 1)")
	}

	cl := &client[V]{
		codec:        opts.Codec,
		strong:       opts.StrongConsistency,
		noEmptyCache: opts.DisableEmptyCache,
		noRead:       opts.DisableRead,
		noDelete:     opts.DisableDelete,
	}

	// defaults
	cl.log = coalesce[Logger](opts.Logger, NopLogger{})
	cl.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cl.retryInterval = coalesce[time.Duration](opts.LockRetryInterval, defaultRetryInterval)
	cl.retryJitter = coalesce[time.Duration](opts.LockRetryJitter, defaultRetryJitter)
	cl.maxRetries = coalesce[int](opts.MaxRetries, defaultMaxRetries)
	cl.emptyTTL = coalesce[time.Duration](opts.EmptyTTL, defaultEmptyTTL)
	cl.jitterRatio = coalesce[float64](opts.TTLJitterRatio, defaultTTLJitterRatio)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Rand != nil {
		cl.randf = opts.Rand
	} else {
		cl.randf = rand.Float64
	}
	if opts.OwnerToken != nil {
		cl.ownerToken = opts.OwnerToken
	} else {
		cl.ownerToken = uuid.NewString
	}

	cl.coord = &coordinator{
		store:          opts.Store,
		lockTTL:        coalesce[time.Duration](opts.LockTTL, defaultLockTTL),
		lockTTLJitter:  coalesce[time.Duration](opts.LockTTLJitter, defaultLockTTLJitter),
		staleRetention: coalesce[time.Duration](opts.StaleRetention, defaultStaleRetention),
		now:            now,
		randf:          cl.randf,
	}
	return cl, nil
}

func (cl *client[V]) Fetch(ctx context.Context, key string, ttl time.Duration, loader Loader[V]) (V, bool, error) {
	var zero V
	if key == "" {
		return zero, false, fmt.Errorf("herdcache: key is required")
	}
	if loader == nil {
		return zero, false, fmt.Errorf("herdcache: loader is required")
	}
	if ttl <= 0 {
		return zero, false, fmt.Errorf("herdcache: ttl must be positive, got %v", ttl)
	}

	if cl.noRead {
		// cache bypass: the loader is the only source
		v, ok, err := runLoader(ctx, loader)
		if err != nil {
			return zero, false, &LoaderError{Key: key, Err: err}
		}
		return v, ok, nil
	}

	owner := cl.ownerToken()
	for attempt := 0; ; attempt++ {
		d, err := cl.coord.decide(ctx, key, owner)
		if err != nil {
			return zero, false, err
		}

		switch d.outcome {
		case outcomeHit:
			if v, ok, usable := cl.decodeValue(key, d.frame); usable {
				cl.hooks.Hit(key)
				return v, ok, nil
			}
			// the valid record is unreadable; tag it expired so the next
			// round claims the lock and refreshes
			if terr := cl.coord.tagDeleted(ctx, key); terr != nil {
				return zero, false, terr
			}

		case outcomeOwner:
			if !cl.strong && d.frame.ok {
				if v, ok, usable := cl.decodeValue(key, d.frame); usable {
					cl.hooks.StaleServed(key)
					cl.spawnRefresh(ctx, key, owner, ttl, loader)
					return v, ok, nil
				}
			}
			cl.hooks.Miss(key)
			return cl.loadAndSettle(ctx, key, owner, ttl, loader)

		default: // outcomeHeld
			if !cl.strong && d.frame.ok {
				if v, ok, usable := cl.decodeValue(key, d.frame); usable {
					cl.hooks.StaleServed(key)
					return v, ok, nil
				}
			}
			if attempt >= cl.maxRetries {
				cl.hooks.RetriesExhausted(key, attempt)
				cl.log.Warn("lock wait budget exhausted, serving last-seen state",
					Fields{"key": key, "attempts": attempt})
				return cl.lastSeen(d.frame)
			}
			cl.hooks.LockContended(key, attempt)
			if err := cl.sleepRetry(ctx); err != nil {
				return zero, false, err
			}
		}
	}
}

func (cl *client[V]) TagAsDeleted(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("herdcache: key is required")
	}
	if cl.noDelete {
		return nil
	}
	if err := cl.coord.tagDeleted(ctx, key); err != nil {
		return err
	}
	cl.log.Debug("tagged deleted", Fields{"key": key})
	return nil
}

// Close waits for in-flight background refreshes, then closes the store.
// When ctx expires first the store is left open so stragglers can still
// settle their locks.
func (cl *client[V]) Close(ctx context.Context) error {
	var err error
	cl.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			cl.refreshWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		err = cl.coord.store.Close(ctx)
	})
	return err
}

// loadAndSettle runs the loader under an already-held lock and settles the
// record: value written, absence negatively cached (or deleted), failure
// unlocking so waiters retry promptly.
func (cl *client[V]) loadAndSettle(ctx context.Context, key, owner string, ttl time.Duration, loader Loader[V]) (V, bool, error) {
	var zero V

	v, ok, err := runLoader(ctx, loader)
	if err != nil {
		if rerr := cl.coord.release(ctx, key, owner); rerr != nil {
			cl.log.Warn("lock release after loader failure failed",
				Fields{"key": key, "err": rerr.Error()})
		}
		return zero, false, &LoaderError{Key: key, Err: err}
	}

	if !ok && cl.noEmptyCache {
		if derr := cl.coord.delete(ctx, key); derr != nil {
			return zero, false, derr
		}
		return zero, false, nil
	}

	frame, validFor, err := cl.encodeResult(v, ok, ttl)
	if err != nil {
		if rerr := cl.coord.release(ctx, key, owner); rerr != nil {
			cl.log.Warn("lock release after encode failure failed",
				Fields{"key": key, "err": rerr.Error()})
		}
		return zero, false, err
	}

	wrote, err := cl.coord.writeValue(ctx, key, owner, frame, validFor)
	if err != nil {
		return zero, false, err
	}
	if !wrote {
		// a newer owner already refreshed; its data wins, ours is dropped
		cl.hooks.StaleWriteDiscarded(key)
		cl.log.Debug("write discarded, lock moved on", Fields{"key": key})
	}
	return v, ok, nil
}

// encodeResult frames a loader result and picks its validity window.
// Present values get the caller ttl minus a random shave so populations
// loaded together do not expire together; absences get the short EmptyTTL.
func (cl *client[V]) encodeResult(v V, ok bool, ttl time.Duration) ([]byte, time.Duration, error) {
	if !ok {
		return wire.EncodeAbsent(), cl.emptyTTL, nil
	}
	payload, err := cl.codec.Encode(v)
	if err != nil {
		return nil, 0, fmt.Errorf("herdcache: encode value: %w", err)
	}
	shave := time.Duration(cl.randf() * cl.jitterRatio * float64(ttl))
	return wire.EncodePresent(payload), ttl - shave, nil
}

// spawnRefresh runs loadAndSettle out of band. The caller already got its
// answer; cancellation of its context must not abandon the held lock, so the
// refresh runs on a detached context and failures are observed, not returned.
func (cl *client[V]) spawnRefresh(ctx context.Context, key, owner string, ttl time.Duration, loader Loader[V]) {
	bg := context.WithoutCancel(ctx)
	cl.refreshWg.Add(1)
	go func() {
		defer cl.refreshWg.Done()
		if _, _, err := cl.loadAndSettle(bg, key, owner, ttl, loader); err != nil {
			cl.hooks.RefreshFailed(key, err)
			cl.log.Error("background refresh failed", Fields{"key": key, "err": err.Error()})
		}
	}()
}

// decodeValue maps a frame onto the caller-visible (value, ok) pair.
// usable=false means bytes exist but cannot be served (corrupt frame or
// codec rejection); the caller picks the fallback.
func (cl *client[V]) decodeValue(key string, f frameState) (V, bool, bool) {
	var zero V
	switch {
	case f.corrupt:
		cl.hooks.ValueCorrupt(key, "frame")
		cl.log.Warn("stored bytes are not a valid frame", Fields{"key": key})
		return zero, false, false
	case !f.ok:
		return zero, false, false
	case !f.present:
		return zero, false, true // cached negative
	}
	v, err := cl.codec.Decode(f.payload)
	if err != nil {
		cl.hooks.ValueCorrupt(key, "value_decode")
		cl.log.Warn("cached value failed to decode", Fields{"key": key, "err": err.Error()})
		return zero, false, false
	}
	return v, true, true
}

// lastSeen degrades to whatever the final poll observed; for a caching layer
// a stale read beats an error.
func (cl *client[V]) lastSeen(f frameState) (V, bool, error) {
	var zero V
	if f.ok && f.present {
		if v, err := cl.codec.Decode(f.payload); err == nil {
			return v, true, nil
		}
	}
	return zero, false, nil
}

func (cl *client[V]) sleepRetry(ctx context.Context) error {
	d := cl.retryInterval + time.Duration(cl.randf()*float64(cl.retryJitter))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// runLoader shields the cache from loader panics so the lock-release path
// runs on every exit.
func runLoader[V any](ctx context.Context, loader Loader[V]) (v V, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v, ok, err = zero, false, fmt.Errorf("loader panic: %v", r)
		}
	}()
	return loader(ctx)
}
