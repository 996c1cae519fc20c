package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chainstream/internal/ledger/domain"
)

const (
	redisKeyPrefix = "chainstream:ledger:"

	// optimistic retries before Update gives up on a hot key
	redisUpdateAttempts = 5
)

// RedisStore keeps each namespace under one string key.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, namespace string) ([]byte, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+namespace).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace string, value []byte) error {
	return s.client.Set(ctx, redisKeyPrefix+namespace, value, 0).Err()
}

// Update uses WATCH/MULTI so a concurrent writer forces a retry instead of
// being overwritten.
func (s *RedisStore) Update(ctx context.Context, namespace string, fn domain.UpdateFunc) error {
	key := redisKeyPrefix + namespace
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update %s: %w", key, redis.TxFailedErr)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
