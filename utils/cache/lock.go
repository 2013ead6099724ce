package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lease
var ErrLockHeld = errors.New("lock held")

// Locker hands out best-effort leases keyed by name
type Locker interface {
	// Acquire returns a release func, or ErrLockHeld
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker ...
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire ...
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := "lock:" + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		// the lease may already have expired; the script makes this a no-op then
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}, nil
}
