package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// FallbackKey identifies requests that carry no forwarded address.
const FallbackKey = "local"

// ErrRejected reports that a request exceeded its client's window.
var ErrRejected = errors.New("ratelimit: too many requests")

// Counter is implemented by WindowCounter and RedisWindowCounter.
type Counter interface {
	Take(ctx context.Context, key string) (bool, error)
	Bypassed() bool
}

// Governor applies a Counter to inbound traffic before it reaches routing.
type Governor struct {
	log     *slog.Logger
	counter Counter
}

// NewGovernor constructs a Governor. A nil counter allows everything.
func NewGovernor(log *slog.Logger, counter Counter) *Governor {
	if log == nil {
		log = slog.Default()
	}
	return &Governor{log: log, counter: counter}
}

// Bypassed reports whether the governor admits all traffic.
func (g *Governor) Bypassed() bool {
	return g == nil || g.counter == nil || g.counter.Bypassed()
}

// Check returns ErrRejected when key is over its limit.
// Backend errors fail open: governance must not take the service down.
func (g *Governor) Check(ctx context.Context, key string) error {
	if g.Bypassed() {
		return nil
	}
	ok, err := g.counter.Take(ctx, key)
	if err != nil {
		g.log.Warn("ratelimit.backend.fail", "key", key, "err", err)
		return nil
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

// Middleware rejects over-limit requests with 429 before calling next.
func (g *Governor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		if err := g.Check(r.Context(), key); err != nil {
			g.log.Info("ratelimit.reject", "key", key, "path", r.URL.Path)
			writeRejected(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey derives the identity key from the first X-Forwarded-For hop,
// falling back to FallbackKey.
func ClientKey(r *http.Request) string {
	raw := r.Header.Get("X-Forwarded-For")
	first, _, _ := strings.Cut(raw, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return FallbackKey
	}
	return first
}

func writeRejected(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
}
