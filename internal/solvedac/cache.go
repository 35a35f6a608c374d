package solvedac

import (
	"context"
	"sync"
	"time"
)

const defaultCacheTTL = 10 * time.Minute

// Lookup is the narrow profile-fetch capability exposed by this package.
type Lookup interface {
	UserProfile(ctx context.Context, handle string) (Profile, error)
}

type cachedProfile struct {
	profile   Profile
	expiresAt time.Time
}

// ProfileCache memoizes successful profile lookups for a bounded TTL. Misses
// and errors are never cached, so a not-found or transient failure is always
// re-observed on the next call.
type ProfileCache struct {
	mu       sync.RWMutex
	entries  map[string]cachedProfile
	ttl      time.Duration
	clock    func() time.Time
	delegate Lookup
}

// NewProfileCache wraps a profile lookup with TTL memoization.
func NewProfileCache(delegate Lookup, ttl time.Duration, clock func() time.Time) *ProfileCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &ProfileCache{
		entries:  make(map[string]cachedProfile),
		ttl:      ttl,
		clock:    clock,
		delegate: delegate,
	}
}

// UserProfile returns the cached profile when fresh, otherwise consults the
// delegate and stores the result.
func (c *ProfileCache) UserProfile(ctx context.Context, handle string) (Profile, error) {
	now := c.clock()

	c.mu.RLock()
	entry, ok := c.entries[handle]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.profile, nil
	}

	profile, err := c.delegate.UserProfile(ctx, handle)
	if err != nil {
		return Profile{}, err
	}

	c.mu.Lock()
	c.entries[handle] = cachedProfile{profile: profile, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return profile, nil
}

// Invalidate drops the cached entry for a handle.
func (c *ProfileCache) Invalidate(handle string) {
	c.mu.Lock()
	delete(c.entries, handle)
	c.mu.Unlock()
}
