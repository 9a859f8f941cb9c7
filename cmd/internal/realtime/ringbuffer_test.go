package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_FIFOWrapAround(t *testing.T) {
	t.Parallel()

	rb := newRingBuffer(2)
	for _, m := range []string{"a", "b"} {
		evicted, accepted := rb.push(m)
		assert.False(t, evicted)
		assert.True(t, accepted)
	}

	msg, skipped, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "a", msg)
	assert.Zero(t, skipped)

	rb.push("c")
	assert.Equal(t, 2, rb.len())

	msg, _, _ = rb.pop()
	assert.Equal(t, "b", msg)
	msg, _, _ = rb.pop()
	assert.Equal(t, "c", msg)

	_, _, ok = rb.pop()
	assert.False(t, ok)
}

func TestRingBuffer_OverflowCountsSkipped(t *testing.T) {
	t.Parallel()

	rb := newRingBuffer(2)
	rb.push("a")
	rb.push("b")
	evicted, _ := rb.push("c")
	assert.True(t, evicted)
	rb.push("d")

	msg, skipped, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "c", msg)
	assert.Equal(t, uint64(2), skipped)

	msg, skipped, _ = rb.pop()
	assert.Equal(t, "d", msg)
	assert.Zero(t, skipped)
}

func TestRingBuffer_NotifyCoalesces(t *testing.T) {
	t.Parallel()

	rb := newRingBuffer(4)
	rb.push("a")
	rb.push("b")

	select {
	case <-rb.notify:
	default:
		t.Fatal("expected a pending wake-up")
	}
	select {
	case <-rb.notify:
		t.Fatal("wake-ups should coalesce into one")
	default:
	}
}

func TestRingBuffer_Close(t *testing.T) {
	t.Parallel()

	rb := newRingBuffer(4)
	rb.push("a")
	rb.close()
	rb.close()

	_, accepted := rb.push("b")
	assert.False(t, accepted)
	assert.Equal(t, 0, rb.len())
	assert.True(t, rb.isClosed())

	// The pending wake-up is still delivered, then the channel reports closed.
	for range rb.notify {
	}
}
