package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/herdcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StaleServedEvery   uint64
	LockContendedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

// Hooks logs anomaly events through slog. Per-request events (Hit, Miss)
// are deliberately not logged; count those with the metrics package instead.
type Hooks struct {
	l    *slog.Logger
	opts Options

	staleCtr     atomic.Uint64
	contendedCtr atomic.Uint64
}

var _ herdcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(string)  {}
func (h *Hooks) Miss(string) {}

func (h *Hooks) StaleServed(key string) {
	if h.l == nil || !sample(h.opts.StaleServedEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("herdcache.stale_served",
		"key", h.redact(key))
}

func (h *Hooks) LockContended(key string, attempt int) {
	if h.l == nil || !sample(h.opts.LockContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("herdcache.lock_contended",
		"key", h.redact(key),
		"attempt", attempt)
}

func (h *Hooks) RetriesExhausted(key string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Warn("herdcache.retries_exhausted",
		"key", h.redact(key),
		"attempts", attempts)
}

func (h *Hooks) StaleWriteDiscarded(key string) {
	if h.l == nil {
		return
	}
	h.l.Info("herdcache.stale_write_discarded",
		"key", h.redact(key))
}

func (h *Hooks) RefreshFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("herdcache.refresh_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ValueCorrupt(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("herdcache.value_corrupt",
		"key", h.redact(key),
		"reason", reason)
}
