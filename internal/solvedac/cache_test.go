package solvedac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLookup struct {
	profile Profile
	err     error
	calls   int
}

func (l *countingLookup) UserProfile(context.Context, string) (Profile, error) {
	l.calls++
	if l.err != nil {
		return Profile{}, l.err
	}
	return l.profile, nil
}

func TestProfileCacheServesFreshEntries(t *testing.T) {
	now := time.Unix(1750000000, 0).UTC()
	delegate := &countingLookup{profile: Profile{Handle: "solver", Rating: 1500}}
	cache := NewProfileCache(delegate, time.Minute, func() time.Time { return now })

	first, err := cache.UserProfile(context.Background(), "solver")
	require.NoError(t, err)
	second, err := cache.UserProfile(context.Background(), "solver")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, delegate.calls, "second lookup should be served from cache")
}

func TestProfileCacheExpiresEntries(t *testing.T) {
	now := time.Unix(1750000000, 0).UTC()
	delegate := &countingLookup{profile: Profile{Handle: "solver"}}
	cache := NewProfileCache(delegate, time.Minute, func() time.Time { return now })

	_, err := cache.UserProfile(context.Background(), "solver")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cache.UserProfile(context.Background(), "solver")
	require.NoError(t, err)

	assert.Equal(t, 2, delegate.calls, "expired entry must be refetched")
}

func TestProfileCacheNeverCachesErrors(t *testing.T) {
	delegate := &countingLookup{err: ErrUserNotFound}
	cache := NewProfileCache(delegate, time.Minute, nil)

	_, err := cache.UserProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = cache.UserProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)

	assert.Equal(t, 2, delegate.calls, "errors must be re-observed, not cached")
}

func TestProfileCacheInvalidate(t *testing.T) {
	delegate := &countingLookup{profile: Profile{Handle: "solver"}}
	cache := NewProfileCache(delegate, time.Minute, nil)

	_, err := cache.UserProfile(context.Background(), "solver")
	require.NoError(t, err)

	cache.Invalidate("solver")
	_, err = cache.UserProfile(context.Background(), "solver")
	require.NoError(t, err)

	assert.Equal(t, 2, delegate.calls)
}
