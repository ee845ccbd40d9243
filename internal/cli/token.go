package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/resulthub/internal/tokens"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		userID   string
		roles    []string
		sessions []string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token",
		Long: `Mint a bearer token signed with auth.secret, for development clients.
Without --session the token may subscribe to any session.`,
		Example: `  resulthub token --user alice --session 5f1c --session 77ab
  RESULTHUB_AUTH_SECRET=dev resulthub token --user ops --role admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret must be set")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			token, err := tokens.NewTokenGenerator(cfg.Auth.Secret, cfg.Auth.Issuer, ttl).Generate(userID, roles, sessions)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			printPlain(cmd.OutOrStdout(), token)
			printInfo(cmd.ErrOrStderr(), "Expires in %s", ttl)
			if len(sessions) == 0 {
				printWarn(cmd.ErrOrStderr(), "Token is not scoped to any session")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id carried by the token")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable)")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "session the token may subscribe to (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}
