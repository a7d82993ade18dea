package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Rrens/chatnil/internal/config"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/security"
	"github.com/Rrens/chatnil/internal/service"
)

func newRootCmd() *cobra.Command {
	var (
		email  string
		ttl    time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.AccessTokenTTL
			}

			auth := service.NewAuthService(security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl))
			pair, err := auth.IssueToken(domain.TokenRequest{UserID: args[0], Email: email})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(pair)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pair.AccessToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from auth.access_token_ttl)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full token response")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
