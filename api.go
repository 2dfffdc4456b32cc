package herdcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/herdcache/codec"
	st "github.com/unkn0wn-root/herdcache/store"
)

// Loader computes the value for a key when the cache cannot serve it.
// ok=false means the source definitively has no value for the key; that
// absence is cached too (see Options.EmptyTTL). A loader error or panic
// releases the refresh lock so other callers retry promptly.
//
// Loaders have no built-in timeout at this layer; time-bound the backing
// call yourself, in line with LockTTL.
type Loader[V any] func(ctx context.Context) (v V, ok bool, err error)

// Cache is the high-level, store-agnostic read-through cache with stampede
// protection. V is the caller's value type. Serialization is handled by a
// pluggable Codec[V]; coordination happens entirely inside the shared store,
// so any number of processes can share one keyspace.
type Cache[V any] interface {
	// Fetch returns the value for key, invoking loader to (re)populate the
	// cache when needed. ok=false means a confirmed absence (negative
	// result), from the loader or from the negative cache. At most one
	// caller per key runs the loader at a time; the others are served a
	// cached value or wait, depending on the consistency mode.
	Fetch(ctx context.Context, key string, ttl time.Duration, loader Loader[V]) (v V, ok bool, err error)

	// TagAsDeleted marks key logically expired without removing its data,
	// so readers can still be served the stale copy while the next Fetch
	// refreshes it. Idempotent; never invokes a loader. An in-flight
	// refresh holding a live lock is left alone.
	TagAsDeleted(ctx context.Context, key string) error

	// Close waits for background refreshes to settle, then releases the
	// store. If ctx expires first, Close returns its error and leaves the
	// store open.
	Close(ctx context.Context) error
}

// Options tune the cache. Only Store and Codec are required; the remaining
// knobs default to values suited for interactive read paths.
type Options[V any] struct {
	// Required
	Store st.Store
	Codec c.Codec[V]

	// StrongConsistency makes Fetch poll until fresh data lands instead of
	// serving logically expired values while a refresh is in flight.
	// Mode is a client-level policy; the store protocol is identical.
	StrongConsistency bool

	LockTTL           time.Duration // refresh lock lease; 0 => 3s
	LockTTLJitter     time.Duration // random addition to each lease; 0 => 1s
	LockRetryInterval time.Duration // base poll interval while locked elsewhere; 0 => 100ms
	LockRetryJitter   time.Duration // random addition per poll; 0 => 50ms
	MaxRetries        int           // poll rounds before settling for the last-seen value; 0 => 60
	EmptyTTL          time.Duration // validity of cached absence; 0 => 1m
	StaleRetention    time.Duration // how long expired values stay physically servable; 0 => 10s
	TTLJitterRatio    float64       // fraction of ttl randomly shaved off validity; 0 => 0.1

	DisableEmptyCache bool // delete the record instead of caching loader absence
	DisableRead       bool // bypass the cache and call the loader directly
	DisableDelete     bool // make TagAsDeleted a no-op

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// Test seams. Production code leaves these nil.
	Now        func() time.Time // clock for all logical decisions; nil => time.Now
	Rand       func() float64   // jitter source in [0,1); nil => math/rand/v2
	OwnerToken func() string    // fencing token mint; nil => uuid.NewString
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newClient[V](opts)
}
