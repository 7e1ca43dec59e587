package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/forcebridge/internal/config"
	"github.com/zeusync/forcebridge/internal/injector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "forcebridge",
		Short: "Run a physics world whose bodies are pushed by wrench commands",
		Long: `forcebridge steps a rigid body world at a fixed rate and applies, on every
step, the latest force and torque received for each configured body. Commands
arrive as JSON over WebSocket on the channel named by each plugin.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}

			srv, err := injector.InitializeServer(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "host description (YAML)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
