package models

import (
	"time"

	"github.com/google/uuid"
)

var DefaultWeeklyGoals = WeeklyGoals{ItemsTarget: 150, QuizzesTarget: 5, MinutesTarget: 300, DaysTarget: 5}

type LearnerSettings struct {
	LearnerID          uuid.UUID   `json:"learner_id"`
	Goals              WeeklyGoals `json:"goals"`
	Email              *string     `json:"email"`
	RemindersEnabled   bool        `json:"reminders_enabled"`
	ReminderLastSentAt *time.Time  `json:"reminder_last_sent_at,omitempty"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func DefaultSettings(learnerID uuid.UUID) LearnerSettings {
	return LearnerSettings{LearnerID: learnerID, Goals: DefaultWeeklyGoals}
}

type UpdateSettingsRequest struct {
	Goals            *WeeklyGoals `json:"goals"`
	Email            *string      `json:"email" validate:"omitempty,email"`
	RemindersEnabled *bool        `json:"reminders_enabled"`
}
