package herdcache

// Hooks lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths; wrap with hooks/async to offload
// slow sinks.
type Hooks interface {
	// A logically valid value was served straight from the store.
	Hit(key string)

	// This caller became the refresh owner and ran the loader inline
	// (cold miss, strong-mode refresh, or unservable stale).
	Miss(key string)

	// A logically expired value was served while a refresh runs elsewhere.
	StaleServed(key string)

	// Another owner holds the refresh lock; attempt is the poll round.
	LockContended(key string, attempt int)

	// Polling for a contended lock gave up after attempts rounds; the
	// last-seen value (possibly none) was returned instead.
	RetriesExhausted(key string, attempts int)

	// A loader result was discarded because the refresh lock moved on
	// to a newer owner (fencing).
	StaleWriteDiscarded(key string)

	// A background refresh failed; the error was logged, never surfaced.
	RefreshFailed(key string, err error)

	// A stored value failed to decode and was tagged for refresh.
	// reason ∈ {"frame", "value_decode"}
	ValueCorrupt(key, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                   {}
func (NopHooks) Miss(string)                  {}
func (NopHooks) StaleServed(string)           {}
func (NopHooks) LockContended(string, int)    {}
func (NopHooks) RetriesExhausted(string, int) {}
func (NopHooks) StaleWriteDiscarded(string)   {}
func (NopHooks) RefreshFailed(string, error)  {}
func (NopHooks) ValueCorrupt(string, string)  {}
