package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"recall-backend/internal/config"
	"recall-backend/internal/database"
)

func newMigrateCommand() *cobra.Command {
	var dir string

	command := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOptional()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

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

			applied, err := database.RunMigrations(cmd.Context(), pool, os.DirFS(dir), log)
			if err != nil {
				return fmt.Errorf("database.RunMigrations() > %w", err)
			}

			if applied == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
				return nil
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", applied)
			return nil
		},
	}

	command.Flags().StringVar(&dir, "dir", "", "migrations directory (default MIGRATIONS_DIR)")

	return command
}
