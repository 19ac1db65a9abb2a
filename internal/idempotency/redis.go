package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idempotency:"

// RedisStore keeps keys in Redis with SET NX so reservations hold across instances.
// A pending marker lives for lease only, so a caller that dies mid-request
// blocks the key briefly; completed keys are kept for ttl.
type RedisStore struct {
	client *redis.Client
	lease  time.Duration
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, lease, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, lease: lease, ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (Reservation, error) {
	// a key can expire between SETNX and GET; one more round settles it
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, keyPrefix+key, pendingValue, s.lease).Result()
		if err != nil {
			return Reservation{}, err
		}
		if ok {
			return Reservation{State: StateNew}, nil
		}

		value, err := s.client.Get(ctx, keyPrefix+key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		return decode(value)
	}
	return Reservation{State: StatePending}, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, resourceID uuid.UUID) error {
	return s.client.Set(ctx, keyPrefix+key, donePrefix+resourceID.String(), s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}
