package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisCounter keeps one key per identity and window, expiring with it.
type RedisCounter struct {
	client redis.UniversalClient
}

func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, identity string, w Window) (int64, error) {
	key := c.key(identity, w)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, w.End)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Get(ctx context.Context, identity string, w Window) (int64, error) {
	n, err := c.client.Get(ctx, c.key(identity, w)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisCounter) key(identity string, w Window) string {
	return fmt.Sprintf("%s%s:%d", redisKeyPrefix, identity, w.Start.Unix())
}
