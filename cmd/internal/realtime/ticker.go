package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Ticker is a demo producer: it publishes {"type":"tick","i":N} to one topic
// on a fixed interval, starting at N=1.
type Ticker struct {
	log      *slog.Logger
	hub      *Hub
	topic    string
	interval time.Duration
}

type tickMessage struct {
	Type string `json:"type"`
	I    uint64 `json:"i"`
}

// NewTicker constructs a Ticker. An interval <= 0 makes Run a no-op.
func NewTicker(log *slog.Logger, hub *Hub, topic string, interval time.Duration) *Ticker {
	return &Ticker{log: log, hub: hub, topic: topic, interval: interval}
}

// Run publishes until ctx ends. It returns nil on cancellation.
func (t *Ticker) Run(ctx context.Context) error {
	if t.interval <= 0 || t.topic == "" {
		return nil
	}
	t.log.Info("ticker.start", "topic", t.topic, "interval", t.interval)

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	var i uint64
	for {
		select {
		case <-ctx.Done():
			t.log.Info("ticker.stop", "topic", t.topic, "published", i)
			return nil
		case <-tk.C:
			i++
			b, err := json.Marshal(tickMessage{Type: "tick", I: i})
			if err != nil {
				return err
			}
			t.hub.Publish(t.topic, string(b))
		}
	}
}
