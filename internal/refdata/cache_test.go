package refdata

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_ADDR is set.
func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	key := "test:refdata:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, key) })
	c := NewRedisCache(rdb, key, time.Minute)

	_, _, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, []byte(scripJSON)))
	data, at, ok, err := c.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, scripJSON, string(data))
	assert.WithinDuration(t, time.Now(), at, time.Minute)

	ttl, err := rdb.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestNewRedisCache_Defaults(t *testing.T) {
	c := NewRedisCache(nil, "", 0)
	assert.Equal(t, "refdata:scrip_master", c.key)
	assert.Equal(t, 7*24*time.Hour, c.retention)
}
