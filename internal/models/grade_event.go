package models

import (
	"time"

	"github.com/google/uuid"
)

// GradeEvent is an append-only log entry. It records enough of the
// resulting item state to rebuild every aggregate without the item table.
type GradeEvent struct {
	ID                   uuid.UUID `json:"id"`
	ItemID               uuid.UUID `json:"item_id"`
	LearnerID            uuid.UUID `json:"learner_id"`
	TopicID              string    `json:"topic_id"`
	Kind                 ItemKind  `json:"kind"`
	Grade                int       `json:"grade"`
	GradedAt             time.Time `json:"graded_at"`
	ResultingInterval    int       `json:"resulting_interval"`
	ResultingEase        float64   `json:"resulting_ease"`
	ResultingRepetitions int       `json:"resulting_repetitions"`
	ResultingLapses      int       `json:"resulting_lapses"`
	IdempotencyKey       *string   `json:"idempotency_key,omitempty"`
}

// NewGradeEvent records the outcome of grading item, which must already
// carry its post-grade state.
func NewGradeEvent(item Item, grade int, gradedAt time.Time, idempotencyKey string) GradeEvent {
	ev := GradeEvent{
		ID:                   uuid.New(),
		ItemID:               item.ID,
		LearnerID:            item.LearnerID,
		TopicID:              item.TopicID,
		Kind:                 item.Kind,
		Grade:                grade,
		GradedAt:             gradedAt,
		ResultingInterval:    item.IntervalDays,
		ResultingEase:        item.Ease,
		ResultingRepetitions: item.Repetitions,
		ResultingLapses:      item.Lapses,
	}
	if idempotencyKey != "" {
		key := idempotencyKey
		ev.IdempotencyKey = &key
	}
	return ev
}
