package realtime

import "sync"

// ringBuffer is a fixed-capacity FIFO with drop-oldest overflow.
// Push and Pop are O(1); the notify channel carries at most one pending wake-up.
type ringBuffer struct {
	mu      sync.Mutex
	buf     []string
	head    int // oldest message
	count   int
	dropped uint64 // overwritten since the last Pop
	closed  bool

	notify chan struct{}
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:    make([]string, capacity),
		notify: make(chan struct{}, 1),
	}
}

// push appends msg, evicting the oldest entry when full.
// It reports whether an entry was evicted and whether msg was accepted.
func (rb *ringBuffer) push(msg string) (evicted, accepted bool) {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return false, false
	}

	if rb.count == len(rb.buf) {
		rb.buf[rb.head] = ""
		rb.head = (rb.head + 1) % len(rb.buf)
		rb.count--
		rb.dropped++
		evicted = true
	}
	rb.buf[(rb.head+rb.count)%len(rb.buf)] = msg
	rb.count++
	rb.mu.Unlock()

	rb.signal()
	return evicted, true
}

// pop removes the oldest entry. skipped is the number of entries evicted
// since the previous successful pop.
func (rb *ringBuffer) pop() (msg string, skipped uint64, ok bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return "", 0, false
	}
	msg = rb.buf[rb.head]
	rb.buf[rb.head] = ""
	rb.head = (rb.head + 1) % len(rb.buf)
	rb.count--

	skipped = rb.dropped
	rb.dropped = 0
	return msg, skipped, true
}

func (rb *ringBuffer) len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

func (rb *ringBuffer) signal() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed {
		return
	}
	select {
	case rb.notify <- struct{}{}:
	default:
	}
}

// close rejects further pushes, drops buffered entries and wakes waiters.
func (rb *ringBuffer) close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed {
		return
	}
	rb.closed = true
	clear(rb.buf)
	rb.count = 0
	close(rb.notify)
}

func (rb *ringBuffer) isClosed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.closed
}
