package main

import (
	"fmt"
	"os"
	"time"

	"LearnChat/internal/credentials"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		secret   string
		username string
		roles    []string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token accepted by the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("RELAY_JWT_SECRET")
			}
			token, err := credentials.Mint(secret, username, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&secret, "secret", "", "Signing secret (default $RELAY_JWT_SECRET)")
	flags.StringVar(&username, "user", "student", "Username carried by the token")
	flags.StringSliceVar(&roles, "role", []string{credentials.RoleStudent}, "Roles carried by the token (student|teacher|admin)")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
