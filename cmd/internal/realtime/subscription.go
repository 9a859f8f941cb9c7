package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned by Recv once the handle has been released.
var ErrSubscriptionClosed = errors.New("realtime: subscription closed")

// Delivery is one message read from a subscription.
// Skipped counts messages that were evicted for this subscriber before Payload
// because it fell behind; a non-zero value means "lagged, skipped ahead".
type Delivery struct {
	Payload string
	Skipped uint64
}

// Subscription is a subscriber handle: an independent cursor into one topic.
// It is owned by exactly one consumer and must be closed when that consumer goes away,
// otherwise the topic keeps fanning out into its buffer.
type Subscription struct {
	id    uint64
	topic *topic
	ring  *ringBuffer

	closeOnce sync.Once
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string { return s.topic.name }

// TryRecv returns the next buffered message without blocking.
func (s *Subscription) TryRecv() (Delivery, bool) {
	msg, skipped, ok := s.ring.pop()
	if !ok {
		return Delivery{}, false
	}
	s.topic.metrics.delivered(skipped)
	return Delivery{Payload: msg, Skipped: skipped}, true
}

// Recv blocks until a message is available, ctx ends, or the subscription is closed.
func (s *Subscription) Recv(ctx context.Context) (Delivery, error) {
	for {
		if d, ok := s.TryRecv(); ok {
			return d, nil
		}
		if s.ring.isClosed() {
			return Delivery{}, ErrSubscriptionClosed
		}
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-s.ring.notify:
		}
	}
}

// Ready returns a channel that receives a value when messages may be available.
// It is closed when the subscription is closed.
func (s *Subscription) Ready() <-chan struct{} { return s.ring.notify }

// Len returns the number of buffered messages.
func (s *Subscription) Len() int { return s.ring.len() }

// Close releases the handle and detaches it from its topic. It is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.topic.unsubscribe(s.id)
		s.ring.close()
	})
}
