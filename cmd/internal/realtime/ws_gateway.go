package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"pulse/cmd/internal/ratelimit"
	v1 "pulse/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "pulse.realtime.v1"

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// GatewayConfig holds websocket transport settings.
// Fields with env tags are loaded under the PULSE_WS_ prefix by the app config.
type GatewayConfig struct {
	// InsecureSkipVerify on Accept. Dev only.
	DevInsecure bool `env:"DEV_INSECURE" envDefault:"false"`

	// When false, requests without an Origin header (non-browser clients) are accepted.
	// A present Origin must always match AllowedOrigins.
	OriginRequired bool     `env:"ORIGIN_REQUIRED" envDefault:"false"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost,http://127.0.0.1" envSeparator:","`

	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"5s"`

	// Frames per FloodWindow before a connection's excess frames are dropped. 0 disables.
	FloodEvents   int           `env:"FLOOD_EVENTS" envDefault:"0"`
	FloodWindow   time.Duration `env:"FLOOD_WINDOW" envDefault:"10s"`
	MaxFrameBytes int64         `env:"MAX_FRAME_BYTES" envDefault:"65536"`
	DrainBatch    int           `env:"DRAIN_BATCH" envDefault:"10"`

	// Set by the app from top-level settings.
	PacerInterval time.Duration
	RelayTopic    string
}

// DefaultGatewayConfig returns the same values the env defaults produce.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      wsDefaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		FloodWindow:       floodWindow,
		MaxFrameBytes:     maxFrameBytes,
		DrainBatch:        DefaultDrainBatch,
		PacerInterval:     ratelimit.DefaultPacerInterval,
		RelayTopic:        DefaultRelayTopic,
	}
}

func (c *GatewayConfig) normalize() {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = d.DrainBatch
	}
	if c.RelayTopic == "" {
		c.RelayTopic = d.RelayTopic
	}
}

// IngressChecker is consulted once per inbound frame. ratelimit.Governor implements it.
type IngressChecker interface {
	Check(ctx context.Context, key string) error
}

// GatewayOption configures a WSGateway.
type GatewayOption func(*WSGateway)

// WithIngress sets the per-frame ingress check.
func WithIngress(c IngressChecker) GatewayOption {
	return func(g *WSGateway) { g.ingress = c }
}

// WithGatewayMetrics attaches session collectors.
func WithGatewayMetrics(m *Metrics) GatewayOption {
	return func(g *WSGateway) { g.metrics = m }
}

// WithPacerMetrics attaches collectors to every session pacer.
func WithPacerMetrics(m *ratelimit.Metrics) GatewayOption {
	return func(g *WSGateway) { g.pacerMetrics = m }
}

// WSGateway is the WebSocket entrypoint for pulse sessions.
//
// It enforces origin policy, heartbeats and flood limits, and runs one Session
// per connection: inbound frames feed the state machine, subscription wake-ups
// drive paced delivery.
type WSGateway struct {
	log *slog.Logger
	hub *Hub
	cfg GatewayConfig

	ingress      IngressChecker
	metrics      *Metrics
	pacerMetrics *ratelimit.Metrics

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. A nil hub gets a private one.
func NewWSGateway(log *slog.Logger, hub *Hub, cfg GatewayConfig, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg.normalize()

	g := &WSGateway{log: log, hub: hub, cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatterns(cfg.AllowedOrigins)
	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the session loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Offered, not required: plain clients that send no subprotocol are served too.
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	sess := NewSession(g.log, g.hub, g.metrics, SessionConfig{
		ID:         sessionID,
		ClientKey:  ratelimit.ClientKey(r),
		RelayTopic: g.cfg.RelayTopic,
		Pacer:      ratelimit.NewPacer(g.cfg.PacerInterval, g.pacerMetrics),
		DrainBatch: g.cfg.DrainBatch,
	})

	g.metrics.sessionOpened()
	g.log.Info("ws.session.open", "session_id", sessionID, "client_key", sess.ClientKey, "subprotocol", conn.Subprotocol())

	reason := g.run(r.Context(), conn, sess)

	g.metrics.sessionClosed(reason)
	g.log.Info("ws.session.close", "session_id", sessionID, "reason", reason, "topic", sess.Topic())
}

// run drives one session until it ends and returns the close reason.
func (g *WSGateway) run(parent context.Context, conn *websocket.Conn, sess *Session) string {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		closeOnce sync.Once
		reason    string
	)

	// shutdown is idempotent: it releases the subscription before the socket goes away.
	shutdown := func(code websocket.StatusCode, why string) {
		closeOnce.Do(func() {
			reason = why
			sess.Close()
			_ = conn.Close(code, why)
			cancel()
		})
	}

	out := &connWriter{conn: conn, timeout: g.cfg.WriteTimeout}

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)

		for {
			mt, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if mt != websocket.MessageText {
				continue
			}
			select {
			case inbound <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sess.ID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	flood := NewFloodGuard(g.cfg.FloodEvents, g.cfg.FloodWindow)

loop:
	for {
		select {
		case <-ctx.Done():
			shutdown(websocket.StatusNormalClosure, "context done")
			break loop

		case err := <-readErr:
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sess.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break loop

		case data := <-inbound:
			if !flood.Allow(time.Now()) {
				g.metrics.flooded()
				if err := out.WriteText(ctx, v1.EncodeError(v1.ReasonRateLimited)); err != nil {
					g.writeFailed(sess, err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					break loop
				}
				continue loop
			}

			if g.ingress != nil {
				if err := g.ingress.Check(ctx, sess.ClientKey); errors.Is(err, ratelimit.ErrRejected) {
					if err := out.WriteText(ctx, v1.EncodeError(v1.ReasonTooManyRequests)); err != nil {
						g.writeFailed(sess, err)
						shutdown(websocket.StatusAbnormalClosure, "write failed")
						break loop
					}
					continue loop
				}
			}

			reply, err := sess.HandleText(data)
			if err != nil && !errors.Is(err, ErrProtocol) {
				shutdown(websocket.StatusNormalClosure, "session closed")
				break loop
			}
			if err != nil {
				g.log.Debug("ws.protocol", "session_id", sess.ID, "err", err)
			}
			if reply != nil {
				if err := out.WriteText(ctx, reply); err != nil {
					g.writeFailed(sess, err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					break loop
				}
			}

			if !g.drain(ctx, sess, out, shutdown) {
				break loop
			}

		case <-sess.Ready():
			if !g.drain(ctx, sess, out, shutdown) {
				break loop
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-readerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	return reason
}

// drain pushes one batch to the client. It reports false once the session is over.
func (g *WSGateway) drain(ctx context.Context, sess *Session, w TextWriter, shutdown func(websocket.StatusCode, string)) bool {
	_, err := sess.Drain(ctx, w)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrTransport):
		g.writeFailed(sess, err)
		shutdown(websocket.StatusAbnormalClosure, "write failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		shutdown(websocket.StatusNormalClosure, "context done")
	default:
		shutdown(websocket.StatusNormalClosure, "session closed")
	}
	return false
}

func (g *WSGateway) writeFailed(sess *Session, err error) {
	g.log.Info("ws.write.fail", "session_id", sess.ID, "close_status", websocket.CloseStatus(err), "err", err)
}

// connWriter adapts a websocket connection to TextWriter with a per-write deadline.
type connWriter struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *connWriter) WriteText(parent context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return errors.New("origin not allowed: " + origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns maps the allowlist to websocket.Accept host patterns.
// A "*" entry becomes the match-all pattern.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
		// Accept matches against host[:port]; allow any port for listed hosts.
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
