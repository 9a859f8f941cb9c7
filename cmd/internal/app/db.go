package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "pulse"
	dbConnectTimeout  = 3 * time.Second

	// A LISTEN bridge pins one connection for its whole lifetime.
	bridgeReservedConns = 1
)

// NewDBPool dials the pool backing readiness pings and the NOTIFY bridge.
// pulse owns no schema; the pool only ever runs PING and LISTEN.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := dbPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// dbPoolConfig sizes the pool so a running bridge always leaves at least one
// connection for readiness.
func dbPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if len(cfg.PGListenChannels) > 0 && pcfg.MaxConns < bridgeReservedConns+1 {
		pcfg.MaxConns = bridgeReservedConns + 1
	}

	if cfg.DBMinConns > 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	if pcfg.MinConns > pcfg.MaxConns {
		pcfg.MinConns = pcfg.MaxConns
	}
	return pcfg, nil
}

// PingDB round-trips to Postgres within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
