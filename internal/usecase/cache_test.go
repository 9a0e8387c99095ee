package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "split:obs-1", "processing", time.Minute))

	value, err := cache.Get(ctx, "split:obs-1")
	require.NoError(t, err)
	assert.Equal(t, "processing", value)

	require.NoError(t, cache.Del(ctx, "split:obs-1"))
	_, err = cache.Get(ctx, "split:obs-1")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisCacheExpires(t *testing.T) {
	cache, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "split:obs-2", "processing", 100*time.Millisecond))
	mr.FastForward(200 * time.Millisecond)

	_, err := cache.Get(ctx, "split:obs-2")
	assert.ErrorIs(t, err, redis.Nil)
}
