package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicker_PublishesNumberedTicks(t *testing.T) {
	t.Parallel()

	hub := NewHub(discardLogger())
	sub := hub.Subscribe("predictions")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewTicker(discardLogger(), hub, "predictions", 5*time.Millisecond).Run(ctx)
	}()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()

	d, err := sub.Recv(recvCtx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tick","i":1}`, d.Payload)

	d, err = sub.Recv(recvCtx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tick","i":2}`, d.Payload)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestTicker_DisabledReturnsImmediately(t *testing.T) {
	t.Parallel()

	hub := NewHub(discardLogger())
	err := NewTicker(discardLogger(), hub, "predictions", 0).Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, HubStats{}, hub.Stats())
}
