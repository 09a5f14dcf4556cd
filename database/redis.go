package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// RedisStore owns the shared redis client used by the chat store and the
// quota ledger.
type RedisStore struct {
	client *redis.Client
}

// ConnectRedis parses redisURL and verifies the connection.
func ConnectRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("missing required env var: REDIS_URL")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Infow("connected to Redis", "addr", opt.Addr)
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Init() error {
	return nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
