package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bar struct {
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(context.Background(), WithRedisAddr(mr.Addr()), WithRedisPrefix("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestMemoryCacheRoundTripsTypedValues(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "bars", []bar{{Close: 3912.5, Volume: 10}}, time.Minute))

	var got []bar
	require.NoError(t, mc.Get(ctx, "bars", &got))
	assert.Equal(t, []bar{{Close: 3912.5, Volume: 10}}, got)

	var missing []bar
	assert.ErrorIs(t, mc.Get(ctx, "nope", &missing), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
	mc := NewMemoryCache(WithMemoryCleanup(0))
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", "v", time.Second))
	var s string
	require.NoError(t, mc.Get(ctx, "k", &s))
	assert.Equal(t, "v", s)

	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	mc.now = func() time.Time { now = now.Add(time.Millisecond); return now }

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
}

func TestRedisCachePrefixesKeys(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)

	require.NoError(t, rc.Set(ctx, "quote:TCS.NS", map[string]float64{"price": 3912.5}, time.Minute))
	assert.True(t, mr.Exists("test:quote:TCS.NS"))

	var got map[string]float64
	require.NoError(t, rc.Get(ctx, "quote:TCS.NS", &got))
	assert.Equal(t, 3912.5, got["price"])

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, rc.Get(ctx, "quote:TCS.NS", &got), ErrCacheMiss)
}

func TestNewRedisCacheFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), WithRedisAddr(addr), WithRedisTimeouts(100*time.Millisecond, 100*time.Millisecond))
	assert.Error(t, err)
}

func TestLayeredCacheSurvivesRedisOutage(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)
	lc := NewLayeredCache(rc, WithLayeredMemoryTTL(time.Minute))

	require.NoError(t, lc.Set(ctx, "quote:INFY.NS", map[string]float64{"price": 1500}, time.Minute))
	mr.Close()

	var got map[string]float64
	require.NoError(t, lc.Get(ctx, "quote:INFY.NS", &got), "L1 still answers")
	assert.Equal(t, 1500.0, got["price"])

	assert.Error(t, lc.Set(ctx, "quote:TCS.NS", 1, time.Minute))
	var n int
	assert.NoError(t, lc.Get(ctx, "quote:TCS.NS", &n), "failed L2 write still fills L1")

	assert.ErrorIs(t, lc.Get(ctx, "quote:WIPRO.NS", &n), ErrCacheMiss)
}

func TestLayeredCacheFillsL1FromRedis(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)
	lc := NewLayeredCache(rc, WithLayeredMemoryTTL(time.Minute))

	// written by another instance
	require.NoError(t, rc.Set(ctx, "search:abc", []string{"TCS.NS"}, time.Minute))

	var got []string
	require.NoError(t, lc.Get(ctx, "search:abc", &got))
	assert.Equal(t, []string{"TCS.NS"}, got)

	// served from memory once Redis loses it
	mr.Del("test:search:abc")
	got = nil
	require.NoError(t, lc.Get(ctx, "search:abc", &got))
	assert.Equal(t, []string{"TCS.NS"}, got)

	require.NoError(t, lc.Delete(ctx, "search:abc"))
	assert.ErrorIs(t, lc.Get(ctx, "search:abc", &got), ErrCacheMiss)
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	calls := 0
	load := func(context.Context) ([]bar, error) {
		calls++
		return []bar{{Close: 1}}, nil
	}

	v, hit, err := GetOrLoad(ctx, mc, "k", time.Minute, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, v, 1)

	v, hit, err = GetOrLoad(ctx, mc, "k", time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, v, 1)
	assert.Equal(t, 1, calls)

	boom := errors.New("upstream down")
	_, _, err = GetOrLoad(ctx, mc, "other", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "history:TCS.NS:1mo", GenerateKeyWithParams("history", "TCS.NS", "1mo"))
	assert.Len(t, HashKey("infosys"), 32)
}
