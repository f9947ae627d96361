package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/vision-compliance/internal/ratelimit"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLimiterAllowsUpToCapacity(t *testing.T) {
	client := newTestRedis(t)
	l := ratelimit.NewRedisLimiter(client, "test-session", 2, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
}

func TestRedisLimiterBlocksPastCapacity(t *testing.T) {
	client := newTestRedis(t)
	l := ratelimit.NewRedisLimiter(client, "test-session", 1, 1000)

	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	require.Error(t, err)
}

func TestRedisLimiterSharesCountersAcrossInstances(t *testing.T) {
	client := newTestRedis(t)
	l1 := ratelimit.NewRedisLimiter(client, "shared", 1, 1000)
	l2 := ratelimit.NewRedisLimiter(client, "shared", 1, 1000)

	require.NoError(t, l1.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l2.Wait(ctx)
	require.Error(t, err, "second instance should see the first instance's counter")
}
