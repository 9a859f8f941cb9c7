package realtime

import (
	"log/slog"
	"sync"
)

// topic is a named stream with its own subscriber set and publish order.
//
// Concurrency guarantees:
//   - publish, subscribe and unsubscribe on one topic are serialized by mu, so every
//     subscriber observes messages in the same order.
//   - publish never blocks on a subscriber: each one has its own drop-oldest ring.
//   - topics never share a lock with each other.
type topic struct {
	log      *slog.Logger
	name     string
	capacity int
	metrics  *Metrics

	mu   sync.Mutex
	subs map[uint64]*Subscription
}

func newTopic(log *slog.Logger, name string, capacity int, m *Metrics) *topic {
	return &topic{
		log:      log,
		name:     name,
		capacity: capacity,
		metrics:  m,
		subs:     make(map[uint64]*Subscription),
	}
}

func (t *topic) subscribe(id uint64) *Subscription {
	s := &Subscription{
		id:    id,
		topic: t,
		ring:  newRingBuffer(t.capacity),
	}

	t.mu.Lock()
	t.subs[id] = s
	n := len(t.subs)
	t.mu.Unlock()

	t.metrics.subscribed(1)
	t.log.Debug("topic.subscribe", "topic", t.name, "subscription_id", id, "subscribers", n)
	return s
}

func (t *topic) unsubscribe(id uint64) {
	t.mu.Lock()
	_, ok := t.subs[id]
	delete(t.subs, id)
	n := len(t.subs)
	t.mu.Unlock()

	if ok {
		t.metrics.subscribed(-1)
		t.log.Debug("topic.unsubscribe", "topic", t.name, "subscription_id", id, "subscribers", n)
	}
}

// publish fans msg out to every current subscriber and returns how many accepted it.
// With no subscribers the message is discarded.
func (t *topic) publish(msg string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.subs {
		evicted, accepted := s.ring.push(msg)
		if evicted {
			t.metrics.dropped()
		}
		if accepted {
			n++
		}
	}
	t.metrics.published()
	return n
}

func (t *topic) subscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
