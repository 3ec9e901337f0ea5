package adapter

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopline/internal/pkg/redis"
)

func newNumberCache(t *testing.T, addr string) *NumberCacheRedisAdapter {
	t.Helper()
	client, err := redis.NewClient(context.Background(), addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	cache, err := NewNumberCacheRedisAdapter(client)
	require.NoError(t, err)
	return cache
}

func TestNumberCacheRedis_ClaimStartsThenAdvances(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	cache := newNumberCache(t, srv.Addr())

	_, ok, err := cache.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := cache.Claim(ctx, "ws1", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)

	// 已有缓存时忽略调用方算出的起始值
	n, err = cache.Claim(ctx, "ws1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	next, ok, err := cache.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(43), next)

	require.NoError(t, cache.Delete(ctx, "ws1"))
	n, err = cache.Claim(ctx, "ws1", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.NoError(t, cache.Clear(ctx))
	_, ok, err = cache.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNumberCacheRedis_InstancesNeverShareNumbers(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	instances := []*NumberCacheRedisAdapter{newNumberCache(t, srv.Addr()), newNumberCache(t, srv.Addr())}

	const perInstance = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	for _, cache := range instances {
		for range perInstance {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := cache.Claim(ctx, "ws1", 1)
				assert.NoError(t, err)
				mu.Lock()
				seen[n]++
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	require.Len(t, seen, 2*perInstance)
	for n := int64(1); n <= 2*perInstance; n++ {
		assert.Equal(t, 1, seen[n], "number %d", n)
	}
}
