package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgBridgeRetryDelay = time.Second

// PGBridge republishes Postgres NOTIFY payloads onto hub topics.
// Each LISTEN channel maps to the topic of the same name.
//
// The bridge takes one connection out of the pool for its whole lifetime;
// on any connection error it gives it back and starts over after a short delay.
type PGBridge struct {
	log      *slog.Logger
	pool     *pgxpool.Pool
	hub      *Hub
	channels []string
}

// NewPGBridge constructs a bridge. Empty channel names are dropped.
func NewPGBridge(log *slog.Logger, pool *pgxpool.Pool, hub *Hub, channels []string) *PGBridge {
	clean := make([]string, 0, len(channels))
	for _, c := range channels {
		if c = strings.TrimSpace(c); c != "" {
			clean = append(clean, c)
		}
	}
	return &PGBridge{log: log, pool: pool, hub: hub, channels: clean}
}

// Channels returns the LISTEN channel list.
func (b *PGBridge) Channels() []string { return b.channels }

// Run listens until ctx ends. It returns nil on cancellation.
func (b *PGBridge) Run(ctx context.Context) error {
	if b.pool == nil || len(b.channels) == 0 {
		return nil
	}

	for {
		err := b.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn("pgbridge.listen.fail", "err", err, "retry_in", pgBridgeRetryDelay)

		t := time.NewTimer(pgBridgeRetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (b *PGBridge) listen(ctx context.Context) error {
	pc, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	// A LISTENing connection must not go back to the pool.
	conn := pc.Hijack()
	defer conn.Close(context.WithoutCancel(ctx))

	for _, ch := range b.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %q: %w", ch, err)
		}
	}
	b.log.Info("pgbridge.listen", "channels", b.channels)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait: %w", err)
		}
		delivered := b.hub.Publish(n.Channel, n.Payload)
		b.log.Debug("pgbridge.notify", "topic", n.Channel, "delivered", delivered)
	}
}
