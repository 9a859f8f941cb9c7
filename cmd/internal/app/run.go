package app

import "context"

// Run is the CLI entrypoint used by cmd/pulse.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run(ctx context.Context, cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
