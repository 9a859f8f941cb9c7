package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pulse/cmd/internal/realtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PULSE_"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8090"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"LOG_COLOR" envDefault:"false"`

	// Websocket sessions outlive any sane read/write timeout, so only header
	// and idle timeouts are applied at the server level.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	MaxPublishBytes   int64         `env:"HTTP_MAX_PUBLISH_BYTES" envDefault:"65536"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// 0 disables the ingress window entirely.
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"600"`
	RateWindow         time.Duration `env:"RATE_WINDOW" envDefault:"60s"`

	// When set, the window counter is shared through Redis instead of process memory.
	RedisURL string `env:"REDIS_URL"`

	DatabaseURL        string   `env:"DATABASE_URL"`
	DBMaxConns         int32    `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns         int32    `env:"DB_MIN_CONNS" envDefault:"0"`
	ReadinessRequireDB bool     `env:"READINESS_REQUIRE_DB" envDefault:"false"`
	PGListenChannels   []string `env:"PG_LISTEN_CHANNELS" envSeparator:","`

	TopicCapacity int           `env:"TOPIC_CAPACITY" envDefault:"512"`
	HubShards     int           `env:"HUB_SHARDS" envDefault:"32"`
	PacerInterval time.Duration `env:"PACER_INTERVAL" envDefault:"50ms"`
	RelayTopic    string        `env:"RELAY_TOPIC" envDefault:"echo"`

	// DemoInterval 0 disables the demo publisher.
	DemoTopic    string        `env:"DEMO_TOPIC" envDefault:"predictions"`
	DemoInterval time.Duration `env:"DEMO_INTERVAL" envDefault:"500ms"`

	WS realtime.GatewayConfig `envPrefix:"WS_"`
}

// LoadConfig reads an optional .env file, then parses PULSE_* variables with defaults.
// Variables already present in the environment win over .env entries.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that would break component invariants.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("PULSE_HTTP_ADDR is empty"))
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("PULSE_LOG_FORMAT must be json or pretty, got %q", c.LogFormat))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, errors.New("PULSE_RATE_WINDOW must be positive"))
	}
	if c.TopicCapacity <= 0 {
		errs = append(errs, errors.New("PULSE_TOPIC_CAPACITY must be positive"))
	}
	if c.HubShards <= 0 {
		errs = append(errs, errors.New("PULSE_HUB_SHARDS must be positive"))
	}
	if c.PacerInterval < 0 {
		errs = append(errs, errors.New("PULSE_PACER_INTERVAL must not be negative"))
	}
	if strings.TrimSpace(c.RelayTopic) == "" {
		errs = append(errs, errors.New("PULSE_RELAY_TOPIC is empty"))
	}
	if c.MaxPublishBytes <= 0 {
		errs = append(errs, errors.New("PULSE_HTTP_MAX_PUBLISH_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// gatewayConfig merges top-level session settings into the websocket config.
func (c Config) gatewayConfig() realtime.GatewayConfig {
	ws := c.WS
	ws.PacerInterval = c.PacerInterval
	ws.RelayTopic = c.RelayTopic
	return ws
}
