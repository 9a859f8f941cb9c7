package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWindowCounter_LimitThreeScenario(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	w := NewWindowCounter(3, WithClock(clk.Now))

	got := make([]bool, 0, 4)
	for range 4 {
		got = append(got, w.Allow("A"))
		clk.Advance(200 * time.Millisecond)
	}

	assert.Equal(t, []bool{true, true, true, false}, got)
	assert.Equal(t, 4, w.Count("A"))
}

func TestWindowCounter_StickyRejectionUntilRollover(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	w := NewWindowCounter(2, WithClock(clk.Now))

	require.True(t, w.Allow("k"))
	require.True(t, w.Allow("k"))
	for i := range 10 {
		clk.Advance(5 * time.Second)
		assert.False(t, w.Allow("k"), "call %d inside the window must be rejected", i)
	}
	assert.Equal(t, 12, w.Count("k"))

	// 50s elapsed so far; exactly 60s is still inside the window.
	clk.Advance(10 * time.Second)
	assert.False(t, w.Allow("k"))

	clk.Advance(time.Millisecond)
	assert.True(t, w.Allow("k"), "first call after rollover is allowed")
	assert.Equal(t, 1, w.Count("k"), "rollover resets the count to 1")
	assert.True(t, w.Allow("k"))
	assert.False(t, w.Allow("k"))
}

func TestWindowCounter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	w := NewWindowCounter(1)

	assert.True(t, w.Allow("a"))
	assert.False(t, w.Allow("a"))
	assert.True(t, w.Allow("b"))
	assert.Equal(t, 2, w.Len())
}

func TestWindowCounter_Bypass(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{0, -1} {
		w := NewWindowCounter(limit)
		require.True(t, w.Bypassed())
		for range 1000 {
			require.True(t, w.Allow("hammer"))
		}
		assert.Equal(t, 0, w.Len(), "bypass mode keeps no state")
	}

	assert.False(t, NewWindowCounter(1).Bypassed())

	var nilCounter *WindowCounter
	assert.True(t, nilCounter.Bypassed())
}

func TestWindowCounter_ConcurrentSameKey(t *testing.T) {
	t.Parallel()

	const (
		limit      = 100
		goroutines = 50
		perG       = 20
	)
	w := NewWindowCounter(limit)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perG {
				if w.Allow("shared") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
	assert.Equal(t, goroutines*perG, w.Count("shared"))
}

func TestWindowCounter_ConcurrentDistinctKeys(t *testing.T) {
	t.Parallel()

	w := NewWindowCounter(3, WithShards(8))

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", i)
			for range 3 {
				assert.True(t, w.Allow(key))
			}
			assert.False(t, w.Allow(key))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, w.Len())
}

func TestWindowCounter_PruneKeepsSemantics(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	w := NewWindowCounter(1, WithClock(clk.Now))

	require.True(t, w.Allow("old"))
	clk.Advance(30 * time.Second)
	require.True(t, w.Allow("fresh"))
	require.False(t, w.Allow("fresh"))

	clk.Advance(31 * time.Second)
	assert.Equal(t, 1, w.Prune())
	assert.Equal(t, 1, w.Len())

	assert.False(t, w.Allow("fresh"), "unexpired entry survives pruning")
	assert.True(t, w.Allow("old"), "pruned key starts a new window")
}

func TestWindowCounter_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	w := NewWindowCounter(1, WithPruneInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWindowCounter_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	w := NewWindowCounter(1, WithMetrics(m))

	w.Allow("x")
	w.Allow("x")
	w.Allow("x")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues(string(DecisionAllow))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues(string(DecisionReject))))
}
