package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision labels a single limiter outcome.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReject Decision = "reject"
	DecisionBypass Decision = "bypass"
	DecisionError  Decision = "error"
)

// Metrics holds rate-governance collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions  *prometheus.CounterVec
	pacerWaits prometheus.Histogram
}

// NewMetrics registers rate-governance collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Window counter decisions by outcome.",
			},
			[]string{"decision"},
		),
		pacerWaits: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pulse",
				Subsystem: "pacer",
				Name:      "wait_seconds",
				Help:      "Time sessions spent waiting for pacer clearance.",
				Buckets:   []float64{0, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
	}
}

func (m *Metrics) observe(d Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d)).Inc()
}

func (m *Metrics) observeWait(seconds float64) {
	if m == nil {
		return
	}
	m.pacerWaits.Observe(seconds)
}
