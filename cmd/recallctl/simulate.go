package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"recall-backend/internal/apperr"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
	"recall-backend/internal/repository"
	"recall-backend/internal/services"
)

type simulateOptions struct {
	Days        int
	Items       int
	Topics      int
	Recall      float64
	Seed        int64
	Start       time.Time
	MaxPerDaily int
}

type simulatedDay struct {
	Date     time.Time `json:"date"`
	Due      int       `json:"due"`
	Graded   int       `json:"graded"`
	Failures int       `json:"failures"`
}

type simulationResult struct {
	Days     []simulatedDay          `json:"days"`
	Progress *models.LearnerProgress `json:"progress"`
}

func newSimulateCommand() *cobra.Command {
	opts := simulateOptions{}
	var output string

	command := &cobra.Command{
		Use:   "simulate",
		Short: "Run a learner through daily review sessions against an in-memory store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			res, err := runSimulation(cmd.Context(), log, opts)
			if err != nil {
				return err
			}

			if output == outputText {
				writeSimulationText(cmd.OutOrStdout(), res)
				return nil
			}
			return writeStructured(cmd.OutOrStdout(), output, res)
		},
	}

	command.Flags().IntVar(&opts.Days, "days", 14, "days to simulate")
	command.Flags().IntVar(&opts.Items, "items", 30, "items to publish on day one")
	command.Flags().IntVar(&opts.Topics, "topics", 3, "topics the items are spread over")
	command.Flags().Float64Var(&opts.Recall, "recall", 0.8, "probability of a passing grade")
	command.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")
	command.Flags().IntVar(&opts.MaxPerDaily, "max", 0, "maximum reviews per day (0 = all due)")
	command.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")

	return command
}

// runSimulation publishes items and reviews everything due once a day on a
// simulated clock, using the same services the server runs. Each day's
// reviews happen at the same instant so intervals land on whole days.
func runSimulation(ctx context.Context, log *logger.Logger, opts simulateOptions) (*simulationResult, error) {
	if opts.Days <= 0 || opts.Items <= 0 {
		return nil, errors.New("--days and --items must be positive")
	}
	if opts.Topics <= 0 {
		opts.Topics = 1
	}
	if opts.Start.IsZero() {
		y, m, d := time.Now().UTC().Date()
		opts.Start = time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
	}

	now := opts.Start
	clock := func() time.Time { return now }
	rng := rand.New(rand.NewSource(opts.Seed))
	learner := uuid.New()

	store := repository.NewMemoryItemStore()
	progressSvc := services.NewProgressService(store, nil, nil, log, services.ProgressConfig{}).WithClock(clock)
	publisher := services.NewLocalEventPublisher(progressSvc)
	grader := services.NewGradeService(store, publisher, log, services.GradeConfig{
		StoreTimeout: time.Second,
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
	}).WithClock(clock)
	builder := services.NewQueueBuilder(store, log, time.Second, 0)
	items := services.NewItemService(store, publisher, log, time.Second).WithClock(clock)

	batch := make([]services.PublishItem, 0, opts.Items)
	for i := 0; i < opts.Items; i++ {
		kind := models.KindFlashcard
		if i%3 == 2 {
			kind = models.KindQuizQuestion
		}
		batch = append(batch, services.PublishItem{Kind: kind, TopicID: fmt.Sprintf("topic-%02d", i%opts.Topics+1)})
	}
	if _, err := items.Publish(ctx, learner, batch); err != nil {
		return nil, fmt.Errorf("publish items > %w", err)
	}

	res := &simulationResult{}
	for day := 0; day < opts.Days; day++ {
		now = opts.Start.AddDate(0, 0, day)
		plan, err := builder.Build(ctx, learner, services.QueueOptions{MaxItems: opts.MaxPerDaily}, now)
		if err != nil {
			return nil, fmt.Errorf("day %d: build queue > %w", day+1, err)
		}

		report := simulatedDay{Date: now, Due: plan.Len()}
		sess := services.NewSession(plan.ID, learner, grader)
		if err := sess.Start(plan); err != nil {
			if errors.Is(err, apperr.ErrEmptyQueue) {
				res.Days = append(res.Days, report)
				continue
			}
			return nil, fmt.Errorf("day %d: start session > %w", day+1, err)
		}

		for _, entry := range plan.Items {
			grade := 3 + rng.Intn(3)
			if rng.Float64() >= opts.Recall {
				grade = rng.Intn(3)
				report.Failures++
			}
			if _, err := sess.Grade(ctx, services.GradeInput{ItemID: entry.ItemID, Grade: grade}); err != nil {
				return nil, fmt.Errorf("day %d: grade %s > %w", day+1, entry.ItemID, err)
			}
			report.Graded++
		}
		res.Days = append(res.Days, report)
	}

	p, err := progressSvc.Get(ctx, learner)
	if err != nil {
		return nil, fmt.Errorf("progress > %w", err)
	}
	res.Progress = p
	return res, nil
}

func writeSimulationText(w io.Writer, res *simulationResult) {
	color.New(color.Bold).Fprintln(w, "Day        Due  Graded  Failed")
	red := color.New(color.FgRed)
	for _, d := range res.Days {
		line := fmt.Sprintf("%s  %3d  %6d  %6d", d.Date.Format("2006-01-02"), d.Due, d.Graded, d.Failures)
		if d.Failures > 0 {
			red.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	writeProgressText(w, res.Progress)
}
