package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/ratelimit"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}

func TestLimiterAllowsUpToMax(t *testing.T) {
	_, client := setupTestRedis(t)

	l := &ratelimit.Limiter{RedisClient: client, Max: 3, Window: time.Minute, Prefix: "query", Logger: &mlog.NoneLogger{}}

	for i := 0; i < 3; i++ {
		d := l.Allow(context.Background(), "1.2.3.4")
		assert.True(t, d.Allowed)
	}

	d := l.Allow(context.Background(), "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestLimiterIndependentKeys(t *testing.T) {
	_, client := setupTestRedis(t)

	l := &ratelimit.Limiter{RedisClient: client, Max: 1, Window: time.Minute, Prefix: "query", Logger: &mlog.NoneLogger{}}

	require.True(t, l.Allow(context.Background(), "1.1.1.1").Allowed)
	require.True(t, l.Allow(context.Background(), "2.2.2.2").Allowed)
	require.False(t, l.Allow(context.Background(), "1.1.1.1").Allowed)
}

func TestLimiterWindowExpiration(t *testing.T) {
	mr, client := setupTestRedis(t)

	l := &ratelimit.Limiter{RedisClient: client, Max: 1, Window: 2 * time.Second, Prefix: "query", Logger: &mlog.NoneLogger{}}

	require.True(t, l.Allow(context.Background(), "9.9.9.9").Allowed)
	require.False(t, l.Allow(context.Background(), "9.9.9.9").Allowed)

	mr.FastForward(3 * time.Second)

	assert.True(t, l.Allow(context.Background(), "9.9.9.9").Allowed)
}

func TestLimiterFailsOpenWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	l := &ratelimit.Limiter{RedisClient: client, Max: 1, Window: time.Minute, Prefix: "query", Logger: &mlog.NoneLogger{}}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	d := l.Allow(ctx, "1.1.1.1")
	assert.True(t, d.Allowed, "rate limiter must fail open when storage is unreachable")
}
