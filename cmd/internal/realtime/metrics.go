package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds hub and session collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	topics      prometheus.Gauge
	subscribers prometheus.Gauge
	publishes   prometheus.Counter
	deliveries  prometheus.Counter
	drops       prometheus.Counter
	lagged      prometheus.Counter

	sessions       prometheus.Gauge
	protocolErrors prometheus.Counter
	relayed        prometheus.Counter
	floodDrops     prometheus.Counter
	closes         *prometheus.CounterVec
}

// NewMetrics registers realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		topics: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Subsystem: "hub", Name: "topics",
			Help: "Number of topics in the registry.",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Subsystem: "hub", Name: "subscribers",
			Help: "Number of live subscriber handles.",
		}),
		publishes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "hub", Name: "published_total",
			Help: "Messages published, including those with no subscribers.",
		}),
		deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "hub", Name: "delivered_total",
			Help: "Messages read by subscribers.",
		}),
		drops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "hub", Name: "dropped_total",
			Help: "Messages evicted from full subscriber buffers.",
		}),
		lagged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "hub", Name: "lagged_reads_total",
			Help: "Reads that observed skipped messages.",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Subsystem: "ws", Name: "sessions",
			Help: "Open websocket sessions.",
		}),
		protocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ws", Name: "protocol_errors_total",
			Help: "Control frames rejected with a protocol error.",
		}),
		relayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ws", Name: "relayed_total",
			Help: "Client frames republished to the relay topic.",
		}),
		floodDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ws", Name: "flood_dropped_total",
			Help: "Inbound frames dropped by the per-connection flood guard.",
		}),
		closes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ws", Name: "closes_total",
			Help: "Session terminations by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) topicCreated() {
	if m == nil {
		return
	}
	m.topics.Inc()
}

func (m *Metrics) subscribed(delta float64) {
	if m == nil {
		return
	}
	m.subscribers.Add(delta)
}

func (m *Metrics) published() {
	if m == nil {
		return
	}
	m.publishes.Inc()
}

func (m *Metrics) delivered(skipped uint64) {
	if m == nil {
		return
	}
	m.deliveries.Inc()
	if skipped > 0 {
		m.lagged.Inc()
	}
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) sessionClosed(reason string) {
	if m == nil {
		return
	}
	m.sessions.Dec()
	m.closes.WithLabelValues(reason).Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) relay() {
	if m == nil {
		return
	}
	m.relayed.Inc()
}

func (m *Metrics) flooded() {
	if m == nil {
		return
	}
	m.floodDrops.Inc()
}
