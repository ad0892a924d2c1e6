package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "payout:lock:"

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisLockStore implements store.LockStore on a Redis string holding the
// expiry as unix nanoseconds.
type RedisLockStore struct {
	client *redis.Client
}

// NewRedisLockStore keeps locks as keys holding their expiry in unix nanoseconds.
func NewRedisLockStore(client *redis.Client) *RedisLockStore {
	return &RedisLockStore{client: client}
}

// InsertLock sets the key only if it is absent.
func (s *RedisLockStore) InsertLock(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, expiresAt.UnixNano(), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// ReplaceExpiredLock uses WATCH so a concurrent reclaim by another instance
// aborts this one instead of both succeeding.
func (s *RedisLockStore) ReplaceExpiredLock(ctx context.Context, key string, now, expiresAt time.Time) (bool, error) {
	redisKey := redisKeyPrefix + key
	replaced := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, redisKey).Int64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current >= now.UnixNano() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, redisKey, expiresAt.UnixNano(), 0)
			return nil
		})
		if err == nil {
			replaced = true
		}
		return err
	}, redisKey)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis reclaim %s: %w", key, err)
	}
	return replaced, nil
}

// DeleteLock removes the key, if any.
func (s *RedisLockStore) DeleteLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
