package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recall-backend/internal/config"
	"recall-backend/internal/middleware"
)

func newTokenCommand() *cobra.Command {
	var (
		learner string
		ttl     time.Duration
	)

	command := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a learner (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			learnerID, err := parseLearner(learner)
			if err != nil {
				return err
			}

			cfg := config.LoadOptional()
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}

			auth := middleware.NewJWTAuth(cfg.JWTSecret)
			auth.TTL = ttl
			token, err := auth.GenerateAccessToken(learnerID)
			if err != nil {
				return fmt.Errorf("sign token > %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	command.Flags().StringVar(&learner, "learner", "", "learner id")
	command.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	return command
}
