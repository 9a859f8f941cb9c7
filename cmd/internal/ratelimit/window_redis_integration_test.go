package ratelimit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestClient(t *testing.T) *redis.Client {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PULSE_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PULSE_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(raw)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("integration test skipped: Redis unreachable (PULSE_REDIS_URL set): %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisWindowCounter_LimitAndRollover(t *testing.T) {
	client := newRedisTestClient(t)
	ctx := context.Background()

	c, err := NewRedisWindowCounter(client, 3, 300*time.Millisecond, nil)
	require.NoError(t, err)

	key := fmt.Sprintf("it-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = client.Del(context.Background(), c.redisKey(key)).Err() })

	got := make([]bool, 0, 5)
	for range 5 {
		ok, err := c.Take(ctx, key)
		require.NoError(t, err)
		got = append(got, ok)
	}
	assert.Equal(t, []bool{true, true, true, false, false}, got)

	require.Eventually(t, func() bool {
		ok, err := c.Take(ctx, key)
		return err == nil && ok
	}, 3*time.Second, 100*time.Millisecond)
}

func TestRedisWindowCounter_Bypass(t *testing.T) {
	c, err := NewRedisWindowCounter(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0, time.Minute, nil)
	require.NoError(t, err)
	require.True(t, c.Bypassed())

	ok, err := c.Take(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisWindowCounter_NilClient(t *testing.T) {
	_, err := NewRedisWindowCounter(nil, 1, time.Minute, nil)
	assert.Error(t, err)
}
