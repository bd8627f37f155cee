package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"recall-backend/internal/models"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown --output %q (want text, json or yaml)", format)
	}
}

// writeStructured renders v as JSON or YAML. YAML keys follow the JSON
// field names so both formats read the same.
func writeStructured(w io.Writer, format string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == outputJSON {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func writeProgressText(w io.Writer, p *models.LearnerProgress) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Learner %s\n", p.LearnerID)
	fmt.Fprintf(w, "  Level %d (%d xp), %d grades total\n", p.Level, p.XP, p.TotalGraded)
	fmt.Fprintf(w, "  Streak: %d day(s), longest %d\n", p.CurrentStreakDays, p.LongestStreakDays)
	fmt.Fprintf(w, "  Due now: %d, due today: %d (%d flashcards, %d quiz questions across %d topics)\n",
		p.DueNow, p.DueToday, p.TodayReview.Flashcards, p.TodayReview.QuizQuestions, p.TodayReview.Topics)

	goal := color.New(color.FgYellow)
	if p.Weekly.GoalMet {
		goal = color.New(color.FgGreen)
	}
	goal.Fprintf(w, "  Week of %s: %.1f%% of goals (%d/%d items, %d/%d quizzes, %d/%d min, %d/%d days), %d day(s) left\n",
		p.Weekly.WeekStart.Format("2006-01-02"), p.Weekly.OverallPercent,
		p.Weekly.ItemsGraded, p.Weekly.Goals.ItemsTarget,
		p.Weekly.QuizzesGraded, p.Weekly.Goals.QuizzesTarget,
		p.Weekly.MinutesStudied, p.Weekly.Goals.MinutesTarget,
		p.Weekly.StudiedDays, p.Weekly.Goals.DaysTarget,
		p.Weekly.DaysRemaining)

	if len(p.Daily) > 0 {
		bold.Fprintln(w, "  Last 7 days")
		for _, d := range p.Daily {
			fmt.Fprintf(w, "    %s  %3d cards %5.1f%%  %3d quizzes %5.1f%%\n",
				d.Date, d.FlashcardsReviewed, d.FlashcardAccuracy, d.QuizzesCompleted, d.QuizAccuracy)
		}
	}

	if len(p.Topics) == 0 {
		return
	}
	bold.Fprintln(w, "  Topics")
	for _, t := range p.Topics {
		fmt.Fprintf(w, "    %-24s %5.1f%% %s (%d/%d graded)\n",
			t.TopicID, t.Mastery, masteryBar(t.Mastery), t.GradedCount, t.ItemCount)
	}
}

func masteryBar(pct float64) string {
	const width = 20
	filled := int(pct / 100 * width)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
