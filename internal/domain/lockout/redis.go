package lockout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisMaxTxRetries = 5

// RedisStore shares entries between instances. Keys expire through Redis
// TTLs, so it needs no sweeper.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lockout entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lockout entry: %w", err)
	}
	return &e, nil
}

// Update runs fn inside WATCH/MULTI and retries when another writer touched
// the key in between.
func (r *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(cur *Entry) *Entry) error {
	txf := func(tx *redis.Tx) error {
		var cur *Entry
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			cur = new(Entry)
			if err := json.Unmarshal(data, cur); err != nil {
				return fmt.Errorf("failed to unmarshal lockout entry: %w", err)
			}
		}

		next := fn(cur)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			payload, err := json.Marshal(next)
			if err != nil {
				return err
			}
			exp := ttl
			if until := time.Until(next.BlockedUntil); until > exp {
				exp = until
			}
			pipe.Set(ctx, key, payload, exp)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update lockout entry: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to update lockout entry: too much contention on %s", key)
}
