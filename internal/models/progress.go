package models

import (
	"time"

	"github.com/google/uuid"
)

type TopicMastery struct {
	TopicID     string  `json:"topic_id"`
	Mastery     float64 `json:"mastery"`
	ItemCount   int     `json:"item_count"`
	GradedCount int     `json:"graded_count"`
}

type WeeklyGoals struct {
	ItemsTarget   int `json:"items_target" validate:"gte=0,lte=5000"`
	QuizzesTarget int `json:"quizzes_target" validate:"gte=0,lte=500"`
	MinutesTarget int `json:"minutes_target" validate:"gte=0,lte=10080"`
	DaysTarget    int `json:"days_target" validate:"gte=0,lte=7"`
}

type WeeklyProgress struct {
	WeekStart      time.Time   `json:"week_start"`
	DaysRemaining  int         `json:"days_remaining"`
	ItemsGraded    int         `json:"items_graded"`
	QuizzesGraded  int         `json:"quizzes_graded"`
	MinutesStudied int         `json:"minutes_studied"`
	StudiedDays    int         `json:"studied_days"`
	Goals          WeeklyGoals `json:"goals"`
	OverallPercent float64     `json:"overall_percent"`
	GoalMet        bool        `json:"goal_met"`
}

// DueBreakdown splits the items due by the end of today.
type DueBreakdown struct {
	Flashcards    int `json:"flashcards"`
	QuizQuestions int `json:"quiz_questions"`
	Topics        int `json:"topics"`
}

// DailyActivity is one calendar day of grading in the learner's timezone.
// Accuracy is the share of passing grades, 0-100.
type DailyActivity struct {
	Date               string  `json:"date"`
	FlashcardsReviewed int     `json:"flashcards_reviewed"`
	QuizzesCompleted   int     `json:"quizzes_completed"`
	FlashcardAccuracy  float64 `json:"flashcard_accuracy"`
	QuizAccuracy       float64 `json:"quiz_accuracy"`
}

type RecentActivity struct {
	EventID  uuid.UUID `json:"event_id"`
	ItemID   uuid.UUID `json:"item_id"`
	TopicID  string    `json:"topic_id"`
	Kind     ItemKind  `json:"kind"`
	Grade    int       `json:"grade"`
	GradedAt time.Time `json:"graded_at"`
}

// LearnerProgress is derived from the grade log and item state. It is a
// cache and can be thrown away at any time.
type LearnerProgress struct {
	LearnerID            uuid.UUID        `json:"learner_id"`
	CurrentStreakDays    int              `json:"current_streak_days"`
	LongestStreakDays    int              `json:"longest_streak_days"`
	XP                   int              `json:"xp"`
	Level                int              `json:"level"`
	TotalGraded          int              `json:"total_graded"`
	WeeklyItemsGraded    int              `json:"weekly_items_graded"`
	WeeklyMinutesStudied int              `json:"weekly_minutes_studied"`
	DueNow               int              `json:"due_now"`
	DueToday             int              `json:"due_today"`
	TodayReview          DueBreakdown     `json:"today_review"`
	Weekly               WeeklyProgress   `json:"weekly"`
	Topics               []TopicMastery   `json:"topics"`
	Daily                []DailyActivity  `json:"daily"`
	Recent               []RecentActivity `json:"recent_activity"`
	ComputedAt           time.Time        `json:"computed_at"`
}
