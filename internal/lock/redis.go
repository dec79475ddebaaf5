package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix      = "custody:lock:"
	releaseTimeout = 5 * time.Second
)

// Deletes the key only if it still carries our token, so an expired lock re-acquired
// by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker excludes across processes. Locks expire after ttl should the holder die.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker returns a Locker whose locks expire after ttl if never released.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to set lock key")
	}

	if !acquired {
		return nil, false, nil
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release lock, it will expire")
		}
	}, true, nil
}
