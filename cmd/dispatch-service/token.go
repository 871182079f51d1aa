package main

import (
	"fmt"
	"time"

	"bankdesk/dispatch-service/internal/config"
	"bankdesk/dispatch-service/internal/httpapi"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <customer|worker> <user-id>",
		Short: "Mint a session token for local testing",
		Args:  cobra.ExactArgs(2),
		RunE:  runToken,
	}
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	role, userID := args[0], args[1]
	if role != httpapi.RoleCustomer && role != httpapi.RoleWorker {
		return fmt.Errorf("role must be %q or %q", httpapi.RoleCustomer, httpapi.RoleWorker)
	}

	verifier := httpapi.NewTokenVerifier(cfg.JWTSecret)
	token, err := verifier.Sign(userID, role, tokenTTL)
	if err != nil {
		return err
	}
	if _, err := verifier.Verify(token); err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
