package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"inapp-messaging/internal/app/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		fixture string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the config, ping, display permission and impression endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if fixture != "" {
				cfg.Catalog.Source = "fixture"
				cfg.Catalog.FixturePath = fixture
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&fixture, "fixture", "", "serve campaigns from this YAML file instead of Postgres")
	return cmd
}
