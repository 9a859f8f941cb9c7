package realtime

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultTopicCapacity is the per-subscriber buffer capacity C.
	DefaultTopicCapacity = 512

	defaultHubShards = 32
)

type hubShard struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

// Hub is the topic registry: it maps topic names to fan-out points,
// creates topics lazily and publishes to their current subscribers.
//
// The registry is split into shards keyed by a hash of the topic name, so
// lookups of different topics rarely contend and no lock covers the whole map.
// Topics are never removed; their count is bounded by topic-name cardinality.
type Hub struct {
	log      *slog.Logger
	capacity int
	metrics  *Metrics

	shards []hubShard
	mask   uint64

	nextID atomic.Uint64
	topics atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithTopicCapacity sets the per-subscriber buffer capacity.
func WithTopicCapacity(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithHubShards sets the registry shard count, rounded up to a power of two.
func WithHubShards(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.shards = make([]hubShard, nextPowerOf2(n))
		}
	}
}

// WithHubMetrics attaches Prometheus collectors.
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Hub{
		log:      log,
		capacity: DefaultTopicCapacity,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.shards == nil {
		h.shards = make([]hubShard, defaultHubShards)
	}
	for i := range h.shards {
		h.shards[i].topics = make(map[string]*topic)
	}
	h.mask = uint64(len(h.shards) - 1)
	return h
}

// Subscribe returns a new handle on topic name, creating the topic if needed.
// The handle only sees messages published after this call.
func (h *Hub) Subscribe(name string) *Subscription {
	return h.topic(name).subscribe(h.nextID.Add(1))
}

// Publish delivers msg to every current subscriber of name and returns how many
// subscribers received it. It creates the topic if absent, never blocks on slow
// subscribers and never fails.
func (h *Hub) Publish(name, msg string) int {
	return h.topic(name).publish(msg)
}

// HubStats is a point-in-time view of the registry.
type HubStats struct {
	Topics      int `json:"topics"`
	Subscribers int `json:"subscribers"`
}

// Stats walks all shards and counts topics and subscribers.
func (h *Hub) Stats() HubStats {
	var st HubStats
	for i := range h.shards {
		sh := &h.shards[i]
		sh.mu.RLock()
		for _, t := range sh.topics {
			st.Topics++
			st.Subscribers += t.subscriberCount()
		}
		sh.mu.RUnlock()
	}
	return st
}

// Subscribers returns the current subscriber count of name (0 if unknown).
func (h *Hub) Subscribers(name string) int {
	sh := h.shard(name)
	sh.mu.RLock()
	t := sh.topics[name]
	sh.mu.RUnlock()
	if t == nil {
		return 0
	}
	return t.subscriberCount()
}

// topic returns the single shared topic instance for name.
func (h *Hub) topic(name string) *topic {
	sh := h.shard(name)

	sh.mu.RLock()
	t, ok := sh.topics[name]
	sh.mu.RUnlock()
	if ok {
		return t
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if t, ok := sh.topics[name]; ok {
		return t
	}
	t = newTopic(h.log, name, h.capacity, h.metrics)
	sh.topics[name] = t
	h.metrics.topicCreated()
	h.log.Info("hub.topic.create", "topic", name, "topics", h.topics.Add(1))
	return t
}

func (h *Hub) shard(name string) *hubShard {
	return &h.shards[xxhash.Sum64String(name)&h.mask]
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
