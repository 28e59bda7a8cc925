package crypto

import (
	"context"
	"sync"
	"time"
)

// MaxCredentialTTL caps how long decrypted credentials stay in memory.
const MaxCredentialTTL = 5 * time.Minute

// CredentialCache holds a decrypted value for a short TTL. It never loads
// implicitly from Get; callers refresh it explicitly.
type CredentialCache[T any] struct {
	mu        sync.Mutex
	loader    func(ctx context.Context) (T, error)
	ttl       time.Duration
	value     T
	expiresAt time.Time
	loaded    bool
	now       func() time.Time
}

// NewCredentialCache creates a cache. The TTL is clamped to MaxCredentialTTL.
func NewCredentialCache[T any](ttl time.Duration, loader func(ctx context.Context) (T, error)) *CredentialCache[T] {
	if ttl > MaxCredentialTTL {
		ttl = MaxCredentialTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	return &CredentialCache[T]{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Refresh runs the loader and stores its value.
func (c *CredentialCache[T]) Refresh(ctx context.Context) (T, error) {
	value, err := c.loader(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.clear()
		return value, err
	}

	c.value = value
	c.loaded = true
	c.expiresAt = c.now().Add(c.ttl)
	return value, nil
}

// Get returns the cached value while it is fresh.
func (c *CredentialCache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded || !c.now().Before(c.expiresAt) {
		c.clear()
		var zero T
		return zero, false
	}
	return c.value, true
}

// Load returns the cached value, refreshing it when stale.
func (c *CredentialCache[T]) Load(ctx context.Context) (T, error) {
	if v, ok := c.Get(); ok {
		return v, nil
	}
	return c.Refresh(ctx)
}

// Invalidate drops the cached value.
func (c *CredentialCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

// TTL returns the effective time to live.
func (c *CredentialCache[T]) TTL() time.Duration {
	return c.ttl
}

func (c *CredentialCache[T]) clear() {
	var zero T
	c.value = zero
	c.loaded = false
	c.expiresAt = time.Time{}
}

// SetClock replaces the time source.
func (c *CredentialCache[T]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
