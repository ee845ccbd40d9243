package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/resulthub/internal/app"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		Long: `Subscribe to the broadcast channel and serve websocket clients until
SIGINT or SIGTERM, then drain in-flight deliveries and disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, "resulthub")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer hub.Close()

			return hub.Run(ctx)
		},
	}
}
