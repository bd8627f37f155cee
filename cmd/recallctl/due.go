package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"recall-backend/internal/config"
	"recall-backend/internal/models"
	"recall-backend/internal/repository"
	"recall-backend/internal/services"
)

func newDueCommand() *cobra.Command {
	var (
		learner  string
		topic    string
		maxItems int
		output   string
	)

	command := &cobra.Command{
		Use:   "due",
		Short: "Show the review queue a learner would get right now",
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

			builder := services.NewQueueBuilder(repository.NewItemRepo(pool), log, cfg.StoreTimeout, cfg.DefaultMaxItems)
			now := time.Now().UTC()
			plan, err := builder.Build(cmd.Context(), learnerID, services.QueueOptions{TopicID: topic, MaxItems: maxItems}, now)
			if err != nil {
				return fmt.Errorf("build queue > %w", err)
			}

			if output == outputText {
				writePlanText(cmd.OutOrStdout(), plan, now)
				return nil
			}
			return writeStructured(cmd.OutOrStdout(), output, plan)
		},
	}

	command.Flags().StringVar(&learner, "learner", "", "learner id")
	command.Flags().StringVar(&topic, "topic", "", "only items of this topic")
	command.Flags().IntVar(&maxItems, "max", 0, "maximum items (default DEFAULT_MAX_ITEMS)")
	command.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")

	return command
}

func writePlanText(w io.Writer, plan *models.SessionPlan, now time.Time) {
	if plan.Len() == 0 {
		color.New(color.FgGreen).Fprintln(w, "Nothing is due.")
		return
	}

	color.New(color.Bold).Fprintf(w, "%d item(s) due\n", plan.Len())
	overdue := color.New(color.FgYellow)
	for i, e := range plan.Items {
		line := fmt.Sprintf("%3d  %s  %-13s  %-20s  %s", i+1, e.ItemID, e.Kind, e.TopicID, e.DueAt.Format(time.RFC3339))
		if now.Sub(e.DueAt) >= 24*time.Hour {
			overdue.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, line)
	}
}
