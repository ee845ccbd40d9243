// Package cli implements the resulthub command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/internal/config"
)

// Version is stamped at build time.
var Version = "0.1.0"

type rootOptions struct {
	cfgFile string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "resulthub",
		Short: "Result distribution hub",
		Long: `resulthub relays processing-pipeline events to subscribed websocket
clients, enriching detail records with the images they reference, and answers
catch-up queries against the document store.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default: ./config.yaml or /etc/resulthub/config.yaml)")

	root.AddCommand(
		newServeCommand(opts),
		newTokenCommand(opts),
		newSeedCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

// Execute runs the root command and reports the error.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), "%v", err)
		return err
	}
	return nil
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, service string) *logging.Logger {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service(service))
	logging.SetDefault(logger)
	return logger
}
