// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/herdcache"
//	"github.com/unkn0wn-root/herdcache/codec"
//	"github.com/unkn0wn-root/herdcache/hooks/async"
//	"github.com/unkn0wn-root/herdcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    StaleServedEvery:   100, // sample logs: ~every 100th stale serve
//	    LockContendedEvery: 10,  // ~every 10th contended poll
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := herdcache.New[User](herdcache.Options[User]{
//	    Store: rstore,
//	    Codec: codec.JSON[User]{},
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/herdcache"
)

type Hooks struct {
	inner herdcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ herdcache.Hooks = (*Hooks)(nil)

func New(inner herdcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) Hit(k string)         { h.try(func() { h.inner.Hit(k) }) }
func (h *Hooks) Miss(k string)        { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) StaleServed(k string) { h.try(func() { h.inner.StaleServed(k) }) }
func (h *Hooks) LockContended(k string, attempt int) {
	h.try(func() { h.inner.LockContended(k, attempt) })
}
func (h *Hooks) RetriesExhausted(k string, attempts int) {
	h.try(func() { h.inner.RetriesExhausted(k, attempts) })
}
func (h *Hooks) StaleWriteDiscarded(k string) { h.try(func() { h.inner.StaleWriteDiscarded(k) }) }
func (h *Hooks) RefreshFailed(k string, err error) {
	h.try(func() { h.inner.RefreshFailed(k, err) })
}
func (h *Hooks) ValueCorrupt(k, reason string) { h.try(func() { h.inner.ValueCorrupt(k, reason) }) }
