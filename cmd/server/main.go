package main

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"playroom/internal/config"
	"playroom/internal/server"
)

func main() {
	var cfg config.Config

	cmd := &cobra.Command{
		Use:           "playroom",
		Short:         "Relay server for room-based realtime multiplayer games.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg)
		},
	}
	config.BindFlags(cmd, &cfg)

	if err := cmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}
