// Package app wires the pulse server runtime: config, logging, rate governance,
// the topic hub and its producers, and the HTTP routes in front of them.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pulse/cmd/internal/ratelimit"
	"pulse/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App is the pulse server runtime. It owns every long-lived component and
// their lifecycles.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry

	hub      *realtime.Hub
	ws       *realtime.WSGateway
	ticker   *realtime.Ticker
	bridge   *realtime.PGBridge
	governor *ratelimit.Governor

	// Exactly one of window / redis backs the governor (neither in bypass mode).
	window *ratelimit.WindowCounter
	redis  *redis.Client

	dbPool    *pgxpool.Pool
	dbEnabled bool

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
// External backends (Redis, Postgres) are dialed here so misconfiguration fails fast.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rtMetrics := realtime.NewMetrics(a.registry)
	rlMetrics := ratelimit.NewMetrics(a.registry)

	a.hub = realtime.NewHub(log,
		realtime.WithTopicCapacity(cfg.TopicCapacity),
		realtime.WithHubShards(cfg.HubShards),
		realtime.WithHubMetrics(rtMetrics),
	)

	counter, err := a.newCounter(ctx, rlMetrics)
	if err != nil {
		return nil, err
	}
	a.governor = ratelimit.NewGovernor(log, counter)

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			a.closeBackends()
			return nil, err
		}
		a.dbPool = pool
		a.dbEnabled = true
		log.Info("db.enabled", "listen_channels", cfg.PGListenChannels)
	} else {
		log.Info("db.disabled")
	}

	a.ws = realtime.NewWSGateway(log, a.hub, cfg.gatewayConfig(),
		realtime.WithIngress(a.governor),
		realtime.WithGatewayMetrics(rtMetrics),
		realtime.WithPacerMetrics(rlMetrics),
	)
	a.ticker = realtime.NewTicker(log, a.hub, cfg.DemoTopic, cfg.DemoInterval)
	a.bridge = realtime.NewPGBridge(log, a.dbPool, a.hub, cfg.PGListenChannels)

	mux := http.NewServeMux()
	registerHTTP(mux, routeDeps{
		log:       log,
		cfg:       cfg,
		hub:       a.hub,
		ws:        a.ws,
		dbPool:    a.dbPool,
		dbEnabled: a.dbEnabled,
		gatherer:  a.registry,
	})
	a.handler = WithRequestID(WithRequestLogging(WithSecurityHeaders(a.governor.Middleware(mux)), log))

	return a, nil
}

// newCounter picks the window counter backend. A limit <= 0 yields a bypassed
// in-process counter and never touches Redis.
func (a *App) newCounter(ctx context.Context, m *ratelimit.Metrics) (ratelimit.Counter, error) {
	limit := a.cfg.RateLimitPerMinute

	if limit > 0 && a.cfg.RedisURL != "" {
		client, err := NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rc, err := ratelimit.NewRedisWindowCounter(client, limit, a.cfg.RateWindow, m)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.redis = client
		a.log.Info("ratelimit.backend", "backend", "redis", "limit", limit, "window", a.cfg.RateWindow)
		return rc, nil
	}

	a.window = ratelimit.NewWindowCounter(limit,
		ratelimit.WithWindow(a.cfg.RateWindow),
		ratelimit.WithLogger(a.log),
		ratelimit.WithMetrics(m),
	)
	if a.window.Bypassed() {
		a.log.Warn("ratelimit.bypass", "limit", limit)
	} else {
		a.log.Info("ratelimit.backend", "backend", "memory", "limit", limit, "window", a.cfg.RateWindow)
	}
	return a.window, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Hub returns the topic registry.
func (a *App) Hub() *realtime.Hub { return a.hub }

// Run listens on the configured address and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln plus every background producer, and blocks
// until ctx cancellation or the first fatal error. Backends are closed on return.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.closeBackends()

	g, gctx := errgroup.WithContext(ctx)

	// Handlers, websocket sessions included, end with the group.
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbEnabled,
		"rate_limit_bypassed", a.governor.Bypassed(),
	)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error { return a.ticker.Run(gctx) })
	g.Go(func() error { return a.bridge.Run(gctx) })
	if a.window != nil && !a.window.Bypassed() {
		g.Go(func() error { return a.window.Run(gctx) })
	}

	err := g.Wait()
	a.log.Info("server.stopped", "hub", a.hub.Stats())
	return err
}

func (a *App) closeBackends() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to the IPv4 loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(base, "//")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
