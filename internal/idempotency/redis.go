package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idempotency:"

type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string) (*Record, error) {
	pending, err := json.Marshal(Record{State: StatePending, Fingerprint: fingerprint})
	if err != nil {
		return nil, fmt.Errorf("idempotency: failed to encode record: %w", err)
	}

	// A key can expire between SetNX and Get; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, keyPrefix+key, pending, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("idempotency: failed to reserve key: %w", err)
		}
		if ok {
			return nil, nil
		}

		raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("idempotency: failed to read key: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("idempotency: corrupt record: %w", err)
		}
		return &rec, nil
	}

	return nil, errors.New("idempotency: key churned during reservation")
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("idempotency: failed to encode record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to store record: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: failed to delete key: %w", err)
	}
	return nil
}
