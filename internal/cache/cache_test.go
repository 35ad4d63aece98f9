package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache[int64]()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "count", 42, time.Minute))

	value, err := c.Get(ctx, "count")
	require.NoError(t, err)
	assert.EqualValues(t, 42, value)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache[string]()

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache[string]()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", "value", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache[string]()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, c.Delete(ctx, "key"))

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGetWithFetchFetchesOnMiss(t *testing.T) {
	c := NewMemoryCache[int64]()
	ctx := context.Background()

	fetches := 0
	fetch := func(ctx context.Context, key string) (int64, error) {
		fetches++
		return 7, nil
	}

	value, err := GetWithFetch(ctx, c, "count", time.Minute, fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 7, value)
	assert.Equal(t, 1, fetches)

	// Second call is served from cache.
	value, err = GetWithFetch(ctx, c, "count", time.Minute, fetch)
	require.NoError(t, err)
	assert.EqualValues(t, 7, value)
	assert.Equal(t, 1, fetches)
}

func TestGetWithFetchPropagatesFetchError(t *testing.T) {
	c := NewMemoryCache[int64]()

	_, err := GetWithFetch(context.Background(), c, "count", time.Minute,
		func(ctx context.Context, key string) (int64, error) {
			return 0, fmt.Errorf("db down")
		})
	assert.EqualError(t, err, "db down")

	// Nothing was cached on failure.
	_, err = c.Get(context.Background(), "count")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
