package chatstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sahilchouksey/askable/model"
)

const (
	chatKeyPrefix    = "chat:"
	maxAppendRetries = 5
)

// RedisBackend keeps each chat as a string key. Appends use WATCH/MULTI so a
// concurrent writer makes the transaction retry instead of losing a message.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Put(ctx context.Context, id string, chat *model.ChatData) error {
	data, err := model.EncodeChat(chat)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, b.key(id), data, 0).Err()
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*model.ChatData, error) {
	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.DecodeChat(data)
}

func (b *RedisBackend) Append(ctx context.Context, id string, msg model.Message, fallback *model.ChatData) error {
	key := b.key(id)

	txf := func(tx *redis.Tx) error {
		var existing *model.ChatData
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			chat, err := model.DecodeChat(data)
			if err != nil {
				return err
			}
			existing = chat
		}

		next, err := model.EncodeChat(applyAppend(existing, msg, fallback))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxAppendRetries; i++ {
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("append to %s: too much contention", key)
}

func (b *RedisBackend) key(id string) string {
	return chatKeyPrefix + id
}
