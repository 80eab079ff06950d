package runlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
)

const (
	keyPrefix      = "pendant:runlock:"
	defaultLockTTL = 6 * time.Hour
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker locks users across processes sharing one Redis. A lock
// expires after the TTL so a crashed holder cannot block a user forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, settings *conf.LockSettings) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New(err).
			Component("runlock").
			Category(errors.CategoryNetwork).
			Context("addr", settings.Redis.Addr).
			Build()
	}

	ttl := settings.Redis.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// TryLock implements Locker.
func (r *RedisLocker) TryLock(ctx context.Context, userID string) (func(), error) {
	key := keyPrefix + userID
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, errors.New(err).
			Component("runlock").
			Category(errors.CategoryNetwork).
			Context("user_id", userID).
			Build()
	}
	if !ok {
		return nil, lockedError(userID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
		})
	}, nil
}

// Close implements Locker.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
