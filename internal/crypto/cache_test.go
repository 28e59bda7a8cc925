package crypto_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/crypto"
)

func TestCredentialCacheLifecycle(t *testing.T) {
	calls := 0
	cache := crypto.NewCredentialCache(time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "secret", nil
	})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	_, ok := cache.Get()
	assert.False(t, ok, "empty until refreshed")

	v, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", v)

	v, ok = cache.Get()
	assert.True(t, ok)
	assert.Equal(t, "secret", v)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get()
	assert.False(t, ok, "expired")

	v, err = cache.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", v)
	assert.Equal(t, 2, calls)

	cache.Invalidate()
	_, ok = cache.Get()
	assert.False(t, ok)
}

func TestCredentialCacheTTLClamped(t *testing.T) {
	cache := crypto.NewCredentialCache(time.Hour, func(ctx context.Context) (int, error) { return 1, nil })
	assert.Equal(t, crypto.MaxCredentialTTL, cache.TTL())
}

func TestCredentialCacheRefreshError(t *testing.T) {
	fail := false
	cache := crypto.NewCredentialCache(time.Minute, func(ctx context.Context) (string, error) {
		if fail {
			return "", errors.New("no credentials")
		}
		return "ok", nil
	})

	_, err := cache.Refresh(context.Background())
	require.NoError(t, err)

	fail = true
	_, err = cache.Refresh(context.Background())
	require.Error(t, err)

	_, ok := cache.Get()
	assert.False(t, ok, "failed refresh drops stale value")
}

func TestCredentialCacheZeroTTL(t *testing.T) {
	calls := 0
	cache := crypto.NewCredentialCache(0, func(ctx context.Context) (string, error) {
		calls++
		return "v", nil
	})

	_, err := cache.Load(context.Background())
	require.NoError(t, err)
	_, err = cache.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
