package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// FloodGuard is a per-connection token bucket over inbound frames.
//
// It sits in front of the shared window counter: the window counter answers
// "is this client over its per-minute budget", the flood guard answers "is
// this one socket hammering us". Frames over the bucket are dropped with a
// "rate limited" reply; the connection stays open.
//
// A nil *FloodGuard allows everything.
type FloodGuard struct {
	lim *rate.Limiter
}

// NewFloodGuard allows events per window with a burst of events.
// It returns nil (guard disabled) when events <= 0.
func NewFloodGuard(events int, window time.Duration) *FloodGuard {
	if events <= 0 {
		return nil
	}
	if window <= 0 {
		window = floodWindow
	}
	every := window / time.Duration(events)
	return &FloodGuard{lim: rate.NewLimiter(rate.Every(every), events)}
}

// Allow reports whether an event at now is permitted.
func (f *FloodGuard) Allow(now time.Time) bool {
	if f == nil {
		return true
	}
	return f.lim.AllowN(now, 1)
}
