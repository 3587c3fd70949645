package task

import (
	"context"
	"errors"
	"time"

	"linkboost-controlplane/pkg/rediskey"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker grants a named lease to at most one holder at a time.
type Locker interface {
	// Acquire returns ok=false when another holder owns the lease. release
	// is only set when ok is true.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// releaseScript deletes the lock only if it still carries our token, so an
// expired lease taken over by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb  *redis.Client
	node *snowflake.Node
}

func NewRedisLocker(rdb *redis.Client, node *snowflake.Node) *RedisLocker {
	return &RedisLocker{rdb: rdb, node: node}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context), bool, error) {
	key := rediskey.BuildLockKey(name)
	token := l.node.Generate().String()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			zap.L().Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
