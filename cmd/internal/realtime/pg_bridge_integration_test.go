package realtime

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when PULSE_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPGBridge_NotifyReachesSubscribers(t *testing.T) {
	pool := mustOpenTestPool(t)

	id, err := NewSessionID(time.Now())
	require.NoError(t, err)
	channel := "pulse_it_" + strings.ToLower(id)

	hub := NewHub(discardLogger())
	sub := hub.Subscribe(channel)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewPGBridge(discardLogger(), pool, hub, []string{channel, " "}).Run(ctx)
	}()

	// LISTEN is asynchronous relative to this goroutine: keep notifying until one lands.
	require.Eventually(t, func() bool {
		if _, err := pool.Exec(context.Background(), "SELECT pg_notify($1, $2)", channel, `{"hello":"pg"}`); err != nil {
			t.Logf("notify: %v", err)
			return false
		}
		return sub.Len() > 0
	}, 10*time.Second, 100*time.Millisecond)

	d, ok := sub.TryRecv()
	require.True(t, ok)
	assert.Equal(t, `{"hello":"pg"}`, d.Payload)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestPGBridge_NoChannelsIsNoop(t *testing.T) {
	t.Parallel()

	b := NewPGBridge(discardLogger(), nil, NewHub(discardLogger()), []string{"", "  "})
	assert.Empty(t, b.Channels())
	assert.NoError(t, b.Run(context.Background()))
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PULSE_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PULSE_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse PULSE_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
