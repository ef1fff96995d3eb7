package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyLockTTL   = 30 * time.Second
	idempotencyResultTTL = 24 * time.Hour
)

// NewRedisClient connects to redisURL and verifies the connection
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisIdempotencyStore keeps session creation results per idempotency key
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "payment-session:idempotency:"}
}

func (s *RedisIdempotencyStore) resultKey(key string) string {
	return s.prefix + key + ":result"
}

func (s *RedisIdempotencyStore) lockKey(key string) string {
	return s.prefix + key + ":lock"
}

// Lookup returns the stored result for key, if one exists
func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key string) (*IdempotencyRecord, bool, error) {
	data, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("decode stored result: %w", err)
	}
	return &record, true, nil
}

// Reserve marks key as in flight. It returns false if another request holds it.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, s.lockKey(key), time.Now().Unix(), idempotencyLockTTL).Result()
}

// Complete stores record for key and releases the in-flight marker
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, record *IdempotencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.resultKey(key), data, idempotencyResultTTL)
	pipe.Del(ctx, s.lockKey(key))
	_, err = pipe.Exec(ctx)
	return err
}

// Release drops the in-flight marker so the client can retry
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.lockKey(key)).Err()
}
