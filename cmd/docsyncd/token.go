package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/docsync/internal/errors"
	"github.com/vango-dev/docsync/pkg/server"
)

func tokenCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a client token",
		Long: `Sign an HS256 token with auth.jwt_secret.

The subject is recorded as the contributor of every update sent with the
token. Pass it in the Authorization header or the token query parameter.

Examples:
  docsyncd token alice
  docsyncd token alice --ttl=1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadConfig()
			if err != nil {
				return err
			}
			auth := server.NewTokenAuthenticator([]byte(c.Auth.JWTSecret))
			if !auth.Enabled() {
				return errors.New("D302")
			}
			token, err := auth.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime (0 for no expiry)")
	return cmd
}
