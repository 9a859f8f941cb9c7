package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisWindowCounter_MatchesInProcessBoundaries(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	c, err := NewRedisWindowCounter(client, 3, time.Minute, nil)
	require.NoError(t, err)

	// Key survives elapsed == window, which the in-process counter still counts as inside.
	assert.Equal(t, int64(60_001), c.ttlMillis())

	// Keys are used verbatim, as the in-process counter does.
	assert.Equal(t, "pulse:ratelimit: 203.0.113.7 ", c.redisKey(" 203.0.113.7 "))
	assert.NotEqual(t, c.redisKey("local"), c.redisKey(" local"))
}
