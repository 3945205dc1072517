package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"rentlane/internal/reservation/domain"
)

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache is an in-memory domain.Cache with TTLs. It also implements
// domain.CacheInvalidator with Redis-style glob patterns.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
	err     error
}

// NewCache creates an empty cache using the wall clock.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// WithClock replaces the clock used for expiry.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// FailWith makes every subsequent call return err, simulating an outage.
// A nil err restores normal behavior.
func (c *Cache) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// lookup returns the live entry for key, dropping it if expired. Callers hold mu.
func (c *Cache) lookup(key string) (cacheEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *Cache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	e, ok := c.lookup(key)
	return e.value, ok, nil
}

func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.entries[key] = cacheEntry{value: value, expiresAt: c.expiry(ttl)}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[key] = cacheEntry{value: value, expiresAt: c.expiry(ttl)}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.entries, key)
	return nil
}

// compareAndDelete deletes key only while it still holds value.
func (c *Cache) compareAndDelete(key, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	e, ok := c.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(c.entries, key)
	return true, nil
}

// InvalidatePattern deletes every key matching pattern.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	n := 0
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

// Locker implements domain.Locker over a Cache with random-token ownership.
type Locker struct {
	cache *Cache
}

// NewLocker creates a locker storing its locks in cache.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	token := domain.NewRecordID()
	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrLockHeld.WithMessage("lock %q is held", key)
	}
	return &lock{cache: l.cache, key: key, token: token}, nil
}

type lock struct {
	cache *Cache
	key   string
	token string
}

// Release frees the lock if this holder still owns it.
func (l *lock) Release(ctx context.Context) error {
	_, err := l.cache.compareAndDelete(l.key, l.token)
	return err
}

var (
	_ domain.Cache            = (*Cache)(nil)
	_ domain.CacheInvalidator = (*Cache)(nil)
	_ domain.Locker           = (*Locker)(nil)
)
