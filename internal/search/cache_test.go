package search

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "redis://127.0.0.1:1/0")
	assert.Error(t, err)
}

// Runs against a real server when TEST_REDIS_URL is set.
func TestRedisCacheRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	cache, err := NewRedisCache(ctx, url)
	require.NoError(t, err)
	defer cache.Close()

	key := cachePrefix + "test:" + uuid.NewString()

	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, key, []byte(`{"jobs":[]}`), time.Minute))
	got, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"jobs":[]}`, string(got))
	assert.NoError(t, cache.Ping(ctx))
}
