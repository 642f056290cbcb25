package main

import (
	"github.com/spf13/cobra"

	"inapp-messaging/internal/config"
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "iamctl",
		Short:         "In-app messaging backend and SDK driver",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(opts.configFile)
			if err != nil {
				return err
			}
			level := cfg.Server.LogLevel
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			config.SetupLogging(level, opts.logFormat)
			opts.cfg = cfg
			return nil
		},
	}
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default configs/application.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "console or json")

	cmd.AddCommand(newServeCmd(opts), newSimulateCmd(opts))
	return cmd
}
