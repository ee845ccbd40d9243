package cli

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/resulthub/internal/activity"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply activity database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			pg := cfg.Activity.Postgres
			if err := activity.Migrate(pg.ConnString()); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Activity schema up to date (%s@%s/%s)", pg.User, pg.Host, pg.Database)
			return nil
		},
	}
}
