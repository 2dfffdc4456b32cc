package herdcache

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable classifies store transport and scripting failures.
// Every StoreError matches it via errors.Is; the concrete cause stays
// reachable through Unwrap.
var ErrStoreUnavailable = errors.New("herdcache: store unavailable")

// StoreError wraps a failed store operation with its context. Store failures
// are surfaced to the caller unchanged; the retry budget applies to lock
// contention only, never to outages.
type StoreError struct {
	Op  string // "read_lock", "write_result", "unlock", "tag_deleted", "delete"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("herdcache: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// LoaderError wraps a loader failure (returned error or recovered panic).
// The failure belongs to the caller's data source, not the cache; by the
// time it surfaces the refresh lock has already been released so other
// callers retry promptly.
type LoaderError struct {
	Key string
	Err error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("herdcache: loader for %q failed: %v", e.Key, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }
