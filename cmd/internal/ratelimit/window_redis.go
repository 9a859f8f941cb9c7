package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript increments the key and arms its expiry only when it was just
// created, so the window starts at the first request and the count restarts
// at 1 once the key expires. ARGV[1] is the TTL in milliseconds.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisWindowCounter applies the WindowCounter contract to keys shared by
// several processes. Rejected requests are still counted.
type RedisWindowCounter struct {
	client  redis.Scripter
	prefix  string
	limit   int
	window  time.Duration
	metrics *Metrics
}

// NewRedisWindowCounter constructs a Redis-backed counter. A limit <= 0 is bypass mode.
func NewRedisWindowCounter(client redis.Scripter, limit int, window time.Duration, m *Metrics) (*RedisWindowCounter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: nil redis client")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisWindowCounter{
		client:  client,
		prefix:  "pulse:ratelimit:",
		limit:   limit,
		window:  window,
		metrics: m,
	}, nil
}

// Bypassed reports whether the counter is in development bypass mode.
func (r *RedisWindowCounter) Bypassed() bool {
	return r == nil || r.limit <= 0
}

// Take counts one request for key and reports whether it is within the limit.
func (r *RedisWindowCounter) Take(ctx context.Context, key string) (bool, error) {
	if r.Bypassed() {
		r.metrics.observe(DecisionBypass)
		return true, nil
	}

	n, err := windowScript.Run(ctx, r.client, []string{r.redisKey(key)}, r.ttlMillis()).Int64()
	if err != nil {
		r.metrics.observe(DecisionError)
		return false, fmt.Errorf("ratelimit: redis window: %w", err)
	}

	if n > int64(r.limit) {
		r.metrics.observe(DecisionReject)
		return false, nil
	}
	r.metrics.observe(DecisionAllow)
	return true, nil
}

// redisKey namespaces key unchanged, so it matches the in-process counter's keys.
func (r *RedisWindowCounter) redisKey(key string) string {
	return r.prefix + key
}

// ttlMillis keeps the key alive through now-start == window: like the
// in-process counter, a window only rolls over once strictly exceeded.
func (r *RedisWindowCounter) ttlMillis() int64 {
	return r.window.Milliseconds() + 1
}
