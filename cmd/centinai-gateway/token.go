// ABOUTME: token command that mints read API bearer tokens
// ABOUTME: Tokens are signed with auth.jwt_secret and carry the account id as subject

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/centinai-gateway/internal/auth"
)

const defaultTokenTTL = 30 * 24 * time.Hour

func newTokenCmd() *cobra.Command {
	var (
		account string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a read API token for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured; the read API is disabled")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}
			token, err := verifier.Generate(account, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
