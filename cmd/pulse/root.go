package main

import (
	"pulse/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Real-time topic fan-out over websockets with ingress rate governance",
		Long: `pulse serves a websocket endpoint where each connection subscribes to one
topic and receives every later message published to it, paced per session.
All HTTP traffic passes a fixed-window limiter keyed by client address.

Configuration comes from PULSE_* environment variables (and an optional .env);
flags given on the command line take precedence.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return app.Run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("bind", "0.0.0.0:8090", "listen address (overrides PULSE_HTTP_ADDR)")
	cmd.Flags().Int("rate-limit-per-minute", 600, "requests per client per window, 0 disables (overrides PULSE_RATE_LIMIT_PER_MINUTE)")

	return cmd
}

// applyFlags lets explicitly given flags override environment configuration.
func applyFlags(cmd *cobra.Command, cfg *app.Config) error {
	fs := cmd.Flags()
	if fs.Changed("bind") {
		bind, err := fs.GetString("bind")
		if err != nil {
			return err
		}
		cfg.HTTPAddr = bind
	}
	if fs.Changed("rate-limit-per-minute") {
		n, err := fs.GetInt("rate-limit-per-minute")
		if err != nil {
			return err
		}
		cfg.RateLimitPerMinute = n
	}
	return nil
}
