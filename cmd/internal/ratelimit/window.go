package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultWindow is the fixed window length used when none is configured.
	DefaultWindow = 60 * time.Second

	defaultWindowShards  = 64
	defaultPruneInterval = 5 * time.Minute
)

// windowEntry is one client's counter. dead is set when the entry was pruned
// so that a caller still holding the pointer retries the lookup.
type windowEntry struct {
	mu    sync.Mutex
	count int
	start time.Time
	dead  bool
}

type windowShard struct {
	mu      sync.RWMutex
	entries map[string]*windowEntry
}

// WindowCounter is a fixed-window request counter keyed by client identity.
//
// Concurrency:
//   - keys are spread over independent shards; different keys rarely share a lock.
//   - the read-modify-write of one key is serialized by that entry's own mutex.
//
// A limit <= 0 puts the counter in bypass mode: every call is allowed and no
// state is kept.
type WindowCounter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	log    *slog.Logger

	shards []windowShard
	mask   uint64

	pruneEvery time.Duration
	metrics    *Metrics
}

// WindowOption configures a WindowCounter.
type WindowOption func(*WindowCounter)

// WithWindow overrides the window length (default 60s).
func WithWindow(d time.Duration) WindowOption {
	return func(w *WindowCounter) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) WindowOption {
	return func(w *WindowCounter) {
		if now != nil {
			w.now = now
		}
	}
}

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) WindowOption {
	return func(w *WindowCounter) {
		if n > 0 {
			w.shards = make([]windowShard, nextPowerOf2(n))
		}
	}
}

// WithPruneInterval sets how often Run drops expired entries.
func WithPruneInterval(d time.Duration) WindowOption {
	return func(w *WindowCounter) {
		w.pruneEvery = d
	}
}

// WithLogger sets the logger used by the pruning loop.
func WithLogger(log *slog.Logger) WindowOption {
	return func(w *WindowCounter) {
		if log != nil {
			w.log = log
		}
	}
}

// WithMetrics attaches decision counters.
func WithMetrics(m *Metrics) WindowOption {
	return func(w *WindowCounter) {
		w.metrics = m
	}
}

// NewWindowCounter constructs a counter allowing limit requests per window.
func NewWindowCounter(limit int, opts ...WindowOption) *WindowCounter {
	w := &WindowCounter{
		limit:      limit,
		window:     DefaultWindow,
		now:        time.Now,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		pruneEvery: defaultPruneInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.shards == nil {
		w.shards = make([]windowShard, defaultWindowShards)
	}
	for i := range w.shards {
		w.shards[i].entries = make(map[string]*windowEntry)
	}
	w.mask = uint64(len(w.shards) - 1)
	return w
}

// Bypassed reports whether the counter is in development bypass mode.
func (w *WindowCounter) Bypassed() bool {
	return w == nil || w.limit <= 0
}

// Limit returns the configured per-window limit.
func (w *WindowCounter) Limit() int {
	if w == nil {
		return 0
	}
	return w.limit
}

// Window returns the configured window length.
func (w *WindowCounter) Window() time.Duration {
	if w == nil {
		return DefaultWindow
	}
	return w.window
}

// Allow counts one request for key and reports whether it is within the limit.
//
// The request that pushes the count over the limit is rejected but still
// counted, so a client stays rejected until its window rolls over.
func (w *WindowCounter) Allow(key string) bool {
	if w.Bypassed() {
		w.metrics.observe(DecisionBypass)
		return true
	}

	ok := w.allow(key)
	if ok {
		w.metrics.observe(DecisionAllow)
	} else {
		w.metrics.observe(DecisionReject)
	}
	return ok
}

// Take adapts Allow to the Counter interface.
func (w *WindowCounter) Take(_ context.Context, key string) (bool, error) {
	return w.Allow(key), nil
}

func (w *WindowCounter) allow(key string) bool {
	sh := w.shard(key)

	for {
		e := sh.getOrCreate(key)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}

		now := w.now()
		switch {
		case e.start.IsZero():
			e.count = 1
			e.start = now
		case now.Sub(e.start) > w.window:
			e.count = 1
			e.start = now
		default:
			e.count++
		}
		ok := e.count <= w.limit
		e.mu.Unlock()
		return ok
	}
}

// Count returns the current count for key (0 when unknown). Used by tests and diagnostics.
func (w *WindowCounter) Count(key string) int {
	if w.Bypassed() {
		return 0
	}
	sh := w.shard(key)
	sh.mu.RLock()
	e := sh.entries[key]
	sh.mu.RUnlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Len returns the number of tracked keys.
func (w *WindowCounter) Len() int {
	if w.Bypassed() {
		return 0
	}
	n := 0
	for i := range w.shards {
		sh := &w.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Prune removes entries whose window has already expired. Removing an expired
// entry is indistinguishable from resetting it, so decisions are unaffected.
func (w *WindowCounter) Prune() int {
	if w.Bypassed() {
		return 0
	}
	removed := 0
	for i := range w.shards {
		sh := &w.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entries {
			e.mu.Lock()
			if w.now().Sub(e.start) > w.window {
				e.dead = true
				delete(sh.entries, key)
				removed++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run prunes expired entries until ctx is cancelled. It returns nil on
// cancellation so it can be used directly with errgroup.
func (w *WindowCounter) Run(ctx context.Context) error {
	if w.Bypassed() || w.pruneEvery <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(w.pruneEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-t.C:
			if n := w.Prune(); n > 0 {
				w.log.Debug("ratelimit.prune", "removed", n, "remaining", w.Len())
			}
		}
	}
}

func (w *WindowCounter) shard(key string) *windowShard {
	return &w.shards[xxhash.Sum64String(key)&w.mask]
}

func (sh *windowShard) getOrCreate(key string) *windowEntry {
	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		return e
	}
	e = &windowEntry{}
	sh.entries[key] = e
	return e
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
