package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"pulse/cmd/internal/ratelimit"
	v1 "pulse/contracts/realtime/v1"
)

var (
	// ErrProtocol marks a malformed or out-of-order control frame. The session continues.
	ErrProtocol = errors.New("realtime: protocol error")
	// ErrTransport marks a read or write failure. It is fatal to that session only.
	ErrTransport = errors.New("realtime: transport error")
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("realtime: session closed")
)

// DefaultDrainBatch bounds how many messages one drain pass writes, so a busy
// topic cannot starve inbound processing.
const DefaultDrainBatch = 10

// State is the control-protocol state of a Session.
type State uint8

const (
	// StateConnected accepts exactly one subscribe frame.
	StateConnected State = iota
	// StateSubscribed streams the topic and relays client text.
	StateSubscribed
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// TextWriter is the outbound side of a session transport.
type TextWriter interface {
	WriteText(ctx context.Context, payload []byte) error
}

// SessionConfig carries the per-session knobs.
type SessionConfig struct {
	ID         string
	ClientKey  string
	RelayTopic string
	Pacer      *ratelimit.Pacer
	DrainBatch int
}

// Session is one live connection: a control-protocol state machine plus the
// subscriber handle it drains. It does not own the transport; callers feed it
// inbound frames and pass a TextWriter to Drain.
//
// Design notes:
//   - the subscription is acquired at most once, on the first valid subscribe.
//   - Close is idempotent and always releases the subscription.
type Session struct {
	ID        string
	ClientKey string

	log        *slog.Logger
	hub        *Hub
	metrics    *Metrics
	pacer      *ratelimit.Pacer
	relayTopic string
	drainBatch int

	mu    sync.Mutex
	state State
	sub   *Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a Session in StateConnected.
func NewSession(log *slog.Logger, hub *Hub, m *Metrics, cfg SessionConfig) *Session {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Pacer == nil {
		cfg.Pacer = ratelimit.NewPacer(ratelimit.DefaultPacerInterval, nil)
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = DefaultDrainBatch
	}
	if cfg.RelayTopic == "" {
		cfg.RelayTopic = DefaultRelayTopic
	}
	return &Session{
		ID:         cfg.ID,
		ClientKey:  cfg.ClientKey,
		log:        log.With("session_id", cfg.ID),
		hub:        hub,
		metrics:    m,
		pacer:      cfg.Pacer,
		relayTopic: cfg.RelayTopic,
		drainBatch: cfg.DrainBatch,
		done:       make(chan struct{}),
	}
}

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Topic returns the subscribed topic, or "" before subscribing.
func (s *Session) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return ""
	}
	return s.sub.Topic()
}

// HandleText processes one inbound text frame and returns the reply frame, if any.
//
// Protocol problems return a reply together with an error wrapping ErrProtocol;
// the reply must still be sent and the session stays open.
func (s *Session) HandleText(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateConnected:
		topic, err := v1.ParseSubscribe(data)
		if err != nil {
			s.metrics.protocolError()
			return v1.EncodeError(v1.ReasonExpectedSubscribe), fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		s.sub = s.hub.Subscribe(topic)
		s.state = StateSubscribed
		s.log.Info("session.subscribe", "topic", topic)
		return v1.EncodeAck(), nil

	case StateSubscribed:
		if _, err := v1.ParseSubscribe(data); err == nil || errors.Is(err, v1.ErrInvalidTopic) {
			s.metrics.protocolError()
			return v1.EncodeError(v1.ReasonAlreadySubscribed), fmt.Errorf("%w: already subscribed to %q", ErrProtocol, s.sub.Topic())
		}
		s.hub.Publish(s.relayTopic, string(data))
		s.metrics.relay()
		return nil, nil

	default:
		return nil, ErrSessionClosed
	}
}

// Ready returns the subscription's wake-up channel, or nil when the session is
// not subscribed (a nil channel never fires in a select).
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed {
		return nil
	}
	return s.sub.Ready()
}

// Drain writes up to the configured batch of buffered messages to w, waiting
// for pacer clearance before each write. It never blocks waiting for messages.
// A write failure closes the session and returns an error wrapping ErrTransport.
func (s *Session) Drain(ctx context.Context, w TextWriter) (int, error) {
	s.mu.Lock()
	sub, state := s.sub, s.state
	s.mu.Unlock()

	if state == StateClosed {
		return 0, ErrSessionClosed
	}
	if sub == nil {
		return 0, nil
	}

	n := 0
	for n < s.drainBatch {
		d, ok := sub.TryRecv()
		if !ok {
			return n, nil
		}
		if d.Skipped > 0 {
			s.log.Debug("session.lagged", "topic", sub.Topic(), "skipped", d.Skipped)
		}
		if err := s.pacer.Wait(ctx); err != nil {
			return n, err
		}
		if err := w.WriteText(ctx, []byte(d.Payload)); err != nil {
			s.Close()
			return n, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		n++
	}

	// Batch exhausted with more pending: re-arm so the next loop pass drains again.
	if sub.Len() > 0 {
		sub.ring.signal()
	}
	return n, nil
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close moves the session to StateClosed and releases its subscription (idempotent).
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		sub := s.sub
		s.state = StateClosed
		s.mu.Unlock()

		if sub != nil {
			sub.Close()
		}
		close(s.done)
	})
}
