package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"rentlane/internal/reservation/domain"
)

// releaseScript deletes the lock key only while it still holds the caller's
// token, so a holder whose TTL lapsed cannot free a successor's lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements domain.Locker with SET NX PX and random owner tokens.
type Locker struct {
	cache *Cache
}

// NewLocker creates a Locker sharing the cache's client and key prefix.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

// Acquire takes key for ttl. It does not wait: a held key returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lock, error) {
	token := domain.NewRecordID()
	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrLockHeld.WithMessage("lock %q is held", key)
	}
	return &lock{client: l.cache.client, key: l.cache.key(key), token: token}, nil
}

type lock struct {
	client goredis.UniversalClient
	key    string
	token  string
}

func (l *lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

var _ domain.Locker = (*Locker)(nil)
