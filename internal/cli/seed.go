package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/resulthub/internal/app"
	"github.com/telhawk-systems/resulthub/internal/seeder"
)

func newSeedCommand(root *rootOptions) *cobra.Command {
	var (
		count          int
		interval       time.Duration
		sessions       []string
		heartbeatEvery int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish synthetic pipeline events",
		Long: `Publish synthetic pipeline events on the configured broadcast channel so a
running hub has something to deliver.`,
		Example: `  resulthub seed --count 50 --interval 200ms --session S1
  resulthub seed --count 10 --heartbeat-every 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, "resulthub-seed")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			broker, err := app.ConnectBroker(ctx, cfg, nil, logger)
			if err != nil {
				return err
			}
			defer broker.Close()

			runner := seeder.NewRunner(broker, seeder.Config{
				Channel:        cfg.Broker.Channel,
				Sessions:       sessions,
				Count:          count,
				Interval:       interval,
				HeartbeatEvery: heartbeatEvery,
			}, logger)

			stats, err := runner.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			printSuccess(cmd.OutOrStdout(), "Published %d events, %d heartbeats", stats.Events, stats.Heartbeats)
			if stats.Failed > 0 {
				printWarn(cmd.OutOrStdout(), "%d events failed", stats.Failed)
			}
			printInfo(cmd.OutOrStdout(), "Sessions: %v", runner.Sessions())
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 20, "number of events to publish")
	cmd.Flags().DurationVar(&interval, "interval", 0, "delay between events")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "session to publish for (repeatable, default: three random)")
	cmd.Flags().IntVar(&heartbeatEvery, "heartbeat-every", 0, "publish an ECHO heartbeat after every n events")
	return cmd
}
