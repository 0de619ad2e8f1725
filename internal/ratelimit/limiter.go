// Package ratelimit bounds submission creation per account (or, before
// authentication, per network address) over a rolling window.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/writerrose28/ReDerma/pkg/config"
)

const staleAfter = 2 * time.Hour

type entry struct {
	limiter  *rate.Limiter
	premium  bool
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. Counters are advisory: they are
// best-effort quota enforcement, not exactly-once accounting. A bucket of
// burst N refilling at N per hour can admit up to ~2N requests across the
// first rolling hour, which is looser than a strict sliding window.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	freePerHour    int
	premiumPerHour int
}

// New creates a limiter with per-tier hourly quotas
func New(cfg *config.QuotaConfig) *Limiter {
	return &Limiter{
		entries:        map[string]*entry{},
		freePerHour:    cfg.FreePerHour,
		premiumPerHour: cfg.PremiumPerHour,
	}
}

// Allow reports whether one more submission is permitted for key. The
// premium flag selects the tier quota; if an account changes tier its
// bucket is replaced so the new rate applies immediately.
func (l *Limiter) Allow(key string, premium bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.evictStale(now)

	e, ok := l.entries[key]
	if !ok || e.premium != premium {
		perHour := l.freePerHour
		if premium {
			perHour = l.premiumPerHour
		}
		e = &entry{
			limiter: rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour),
			premium: premium,
		}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// evictStale drops buckets not seen for longer than the window needs.
// Called with the mutex held.
func (l *Limiter) evictStale(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > staleAfter {
			delete(l.entries, key)
		}
	}
}
