package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/tuition-engine/pkg/utils"
)

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	key := "payment-request:" + uuid.NewString()

	res, err := store.Reserve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)

	res, err = store.Reserve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatePending, res.State)

	id := uuid.New()
	require.NoError(t, store.Complete(ctx, key, id))

	res, err = store.Reserve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, id, res.ResourceID)

	require.NoError(t, store.Release(ctx, key))
	res, err = store.Reserve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)
	require.NoError(t, store.Release(ctx, key))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(utils.NewFixedClock(time.Now()), time.Minute, time.Hour))
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := utils.NewFixedClock(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clock, 30*time.Second, time.Hour)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k")
	require.NoError(t, err)

	// an abandoned reservation frees up after the lease, not the ttl
	clock.Advance(30 * time.Second)
	res, err := store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)

	id := uuid.New()
	require.NoError(t, store.Complete(ctx, "k", id))

	clock.Advance(59 * time.Minute)
	res, err = store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, id, res.ResourceID)

	clock.Advance(time.Minute)
	res, err = store.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)
}

func TestDecode(t *testing.T) {
	id := uuid.New()

	res, err := decode("done:" + id.String())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, id, res.ResourceID)

	_, err = decode("done:not-a-uuid")
	assert.ErrorIs(t, err, ErrMalformedValue)

	_, err = decode("garbage")
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	exerciseStore(t, NewRedisStore(client, time.Minute, time.Hour))
}

func TestRedisStore_PendingUsesLease(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	store := NewRedisStore(client, 5*time.Second, time.Hour)
	key := "payment-request:" + uuid.NewString()
	defer client.Del(ctx, keyPrefix+key)

	_, err := store.Reserve(ctx, key)
	require.NoError(t, err)
	ttl, err := client.TTL(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 5*time.Second)

	require.NoError(t, store.Complete(ctx, key, uuid.New()))
	ttl, err = client.TTL(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 5*time.Second)
}
