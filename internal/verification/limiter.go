package verification

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// checkLimiter bounds how often a single code can be status-checked. One
// token bucket per code, stale buckets pruned lazily on access.
type checkLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

func newCheckLimiter(checksPerMinute int) *checkLimiter {
	if checksPerMinute <= 0 {
		checksPerMinute = 6
	}
	return &checkLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(time.Minute / time.Duration(checksPerMinute)),
		burst:   checksPerMinute,
	}
}

// reserve consumes one check for the key. When the budget is exhausted it
// reports false together with the wait until the next check is permitted.
func (l *checkLimiter) reserve(key string) (bool, time.Duration) {
	reservation := l.get(key).Reserve()
	if !reservation.OK() {
		return false, time.Minute
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *checkLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.entries) > 1024 {
		for k, entry := range l.entries {
			if now.Sub(entry.lastSeen) > 10*time.Minute {
				delete(l.entries, k)
			}
		}
	}

	if entry, ok := l.entries[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(l.limit, l.burst),
		lastSeen: now,
	}
	l.entries[key] = entry
	return entry.limiter
}
