package ratelimit

import (
	"context"
	"time"
)

// DefaultPacerInterval is the minimum gap between two sends on one session.
const DefaultPacerInterval = 50 * time.Millisecond

// Pacer enforces a minimum interval between successive emissions on a single session.
//
// Calls serialize: only one caller holds clearance at a time, and waiting callers
// can give up through their context. Elapsed time is measured with time.Since,
// which uses the monotonic clock reading carried by time.Now.
type Pacer struct {
	interval time.Duration
	sem      chan struct{}
	last     time.Time
	metrics  *Metrics
}

// NewPacer constructs a Pacer. An interval <= 0 disables pacing.
func NewPacer(interval time.Duration, m *Metrics) *Pacer {
	return &Pacer{
		interval: interval,
		sem:      make(chan struct{}, 1),
		metrics:  m,
	}
}

// Interval returns the configured minimum interval.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Wait suspends the caller until the minimum interval since the previous
// emission has elapsed, then records now as the new emission time.
// It returns ctx.Err() if ctx ends first; the emission is then not recorded.
func (p *Pacer) Wait(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	start := time.Now()

	if p.interval > 0 && !p.last.IsZero() {
		if remaining := p.interval - time.Since(p.last); remaining > 0 {
			t := time.NewTimer(remaining)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}

	p.last = time.Now()
	p.metrics.observeWait(p.last.Sub(start).Seconds())
	return nil
}
