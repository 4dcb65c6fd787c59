package resultstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps results in Redis. Put writes result and marker in one MULTI/EXEC;
// Take uses GETDEL (Redis 6.2+).
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client. The caller owns the client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, correlationID string, payload []byte, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ResultKey(correlationID), payload, ttl)
		pipe.Set(ctx, DoneKey(correlationID), time.Now().UTC().Format(time.RFC3339Nano), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put result %s: %w", correlationID, err)
	}
	return nil
}

func (s *RedisStore) Peek(ctx context.Context, correlationID string) ([]byte, error) {
	payload, err := s.rdb.Get(ctx, ResultKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("peek result %s: %w", correlationID, err)
	}
	return payload, nil
}

func (s *RedisStore) Take(ctx context.Context, correlationID string) ([]byte, error) {
	payload, err := s.rdb.GetDel(ctx, ResultKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take result %s: %w", correlationID, err)
	}
	return payload, nil
}

func (s *RedisStore) Processed(ctx context.Context, correlationID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, DoneKey(correlationID)).Result()
	if err != nil {
		return false, fmt.Errorf("check marker %s: %w", correlationID, err)
	}
	return n > 0, nil
}
