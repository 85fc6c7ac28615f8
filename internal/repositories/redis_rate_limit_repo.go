package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/redis/go-redis/v9"
)

const redisRateLimitMaxRetries = 25

// RedisRateLimitRepository persists rate limit records as JSON documents in
// Redis. Updates use WATCH/MULTI so concurrent writers never lose increments.
type RedisRateLimitRepository struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisRateLimitRepository creates a Redis backed rate limit store. ttl
// should outlive both the base window and the escalation window.
func NewRedisRateLimitRepository(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisRateLimitRepository) key(key string) string {
	if r.keyPrefix == "" {
		return "ratelimit:" + key
	}
	return fmt.Sprintf("%s:ratelimit:%s", r.keyPrefix, key)
}

func decodeRateLimitRecord(data []byte) (*models.RateLimitRecord, error) {
	var rec models.RateLimitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode rate limit record: %w", err)
	}
	return &rec, nil
}

// Get returns the record for key or models.ErrNotFound
func (r *RedisRateLimitRepository) Get(ctx context.Context, key string) (*models.RateLimitRecord, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeRateLimitRecord(data)
}

// Update applies fn under WATCH, retrying when another writer commits first.
// fn may run more than once and must not have side effects.
func (r *RedisRateLimitRepository) Update(ctx context.Context, key string, fn RateLimitUpdateFunc) error {
	k := r.key(key)

	txf := func(tx *redis.Tx) error {
		var current *models.RateLimitRecord
		data, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		default:
			if current, err = decodeRateLimitRecord(data); err != nil {
				return err
			}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		var encoded []byte
		if next != nil {
			next.Key = key
			if encoded, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode rate limit record: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, k)
				return nil
			}
			pipe.Set(ctx, k, encoded, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisRateLimitMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return models.ErrConcurrentUpdate
}

// Delete removes the record for key
func (r *RedisRateLimitRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
