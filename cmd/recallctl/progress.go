package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recall-backend/internal/config"
	"recall-backend/internal/repository"
	"recall-backend/internal/services"
)

func newRebuildProgressCommand() *cobra.Command {
	var (
		learner string
		output  string
	)

	command := &cobra.Command{
		Use:   "rebuild-progress",
		Short: "Recompute a learner's aggregates from the grade log",
		RunE: func(cmd *cobra.Command, args []string) error {
			learnerID, err := parseLearner(learner)
			if err != nil {
				return err
			}
			if err := validateOutput(output); err != nil {
				return err
			}

			cfg := config.LoadOptional()
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			pool, err := openPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := services.NewProgressService(
				repository.NewItemRepo(pool),
				repository.NewSettingsRepo(pool),
				repository.NewStudySessionRepo(pool),
				log,
				services.ProgressConfig{StoreTimeout: cfg.StoreTimeout, Location: cfg.StreakTimezone},
			)

			p, err := svc.Rebuild(cmd.Context(), learnerID)
			if err != nil {
				return fmt.Errorf("rebuild progress for %s > %w", learnerID, err)
			}

			if output == outputText {
				writeProgressText(cmd.OutOrStdout(), p)
				return nil
			}
			return writeStructured(cmd.OutOrStdout(), output, p)
		},
	}

	command.Flags().StringVar(&learner, "learner", "", "learner id")
	command.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: text, json or yaml")

	return command
}
