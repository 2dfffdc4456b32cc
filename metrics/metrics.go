// Package metrics provides a Prometheus-backed herdcache.Hooks
// implementation.
//
//	reg := prometheus.NewRegistry()
//	cache, _ := herdcache.New[User](herdcache.Options[User]{
//	    Store: rstore,
//	    Codec: codec.JSON[User]{},
//	    Hooks: metrics.New(reg),
//	})
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/herdcache"
)

// Hooks counts cache events on Prometheus counters. Counter increments are
// cheap enough to run inline on the fetch path; no async wrapper is needed.
type Hooks struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	staleServed     prometheus.Counter
	lockContended   prometheus.Counter
	exhausted       prometheus.Counter
	discardedWrites prometheus.Counter
	refreshFailures prometheus.Counter
	corrupt         *prometheus.CounterVec
}

var _ herdcache.Hooks = (*Hooks)(nil)

// New builds the hook set and registers its collectors on reg.
// It panics if a collector with the same name is already registered.
func New(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdcache_hits_total",
			Help: "Valid values served straight from the store",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdcache_misses_total",
			Help: "Fetches that ran the loader inline as refresh owner",
		}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdcache_stale_served_total",
			Help: "Logically expired values served while a refresh was in flight",
		}),
		lockContended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdcache_lock_contended_total",
			Help: "Poll rounds spent waiting on another owner's refresh lock",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdcache_retries_exhausted_total",
			Help: "Fetches that gave up polling and served the last-seen state",
		}),
		discardedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdcache_stale_writes_discarded_total",
			Help: "Loader results dropped because the refresh lock moved on",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herdcache_refresh_failures_total",
			Help: "Background refreshes that ended in an error",
		}),
		corrupt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdcache_value_corrupt_total",
			Help: "Stored values that failed to decode, by reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(h.hits, h.misses, h.staleServed, h.lockContended,
		h.exhausted, h.discardedWrites, h.refreshFailures, h.corrupt)
	return h
}

func (h *Hooks) Hit(string)                   { h.hits.Inc() }
func (h *Hooks) Miss(string)                  { h.misses.Inc() }
func (h *Hooks) StaleServed(string)           { h.staleServed.Inc() }
func (h *Hooks) LockContended(string, int)    { h.lockContended.Inc() }
func (h *Hooks) RetriesExhausted(string, int) { h.exhausted.Inc() }
func (h *Hooks) StaleWriteDiscarded(string)   { h.discardedWrites.Inc() }
func (h *Hooks) RefreshFailed(string, error)  { h.refreshFailures.Inc() }
func (h *Hooks) ValueCorrupt(_, reason string) {
	h.corrupt.WithLabelValues(reason).Inc()
}
