package models

import (
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/scheduler"
)

type ItemKind string

const (
	KindFlashcard    ItemKind = "flashcard"
	KindQuizQuestion ItemKind = "quiz_question"
)

func (k ItemKind) Valid() bool {
	return k == KindFlashcard || k == KindQuizQuestion
}

// Rank orders kinds inside a topic batch: flashcards are reviewed before
// the quiz questions that test them.
func (k ItemKind) Rank() int {
	if k == KindFlashcard {
		return 0
	}
	return 1
}

// Item is a schedulable unit of knowledge owned by one learner. DueAt is
// only ever written by the scheduler.
type Item struct {
	ID           uuid.UUID  `json:"id"`
	LearnerID    uuid.UUID  `json:"learner_id"`
	Kind         ItemKind   `json:"kind"`
	TopicID      string     `json:"topic_id"`
	Ease         float64    `json:"ease"`
	IntervalDays int        `json:"interval_days"`
	DueAt        time.Time  `json:"due_at"`
	Repetitions  int        `json:"repetitions"`
	Lapses       int        `json:"lapses"`
	LastGradedAt *time.Time `json:"last_graded_at"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewItem builds a freshly published item, due at publish time.
func NewItem(id, learnerID uuid.UUID, kind ItemKind, topicID string, now time.Time) Item {
	if id == uuid.Nil {
		id = uuid.New()
	}
	item := Item{
		ID:        id,
		LearnerID: learnerID,
		Kind:      kind,
		TopicID:   topicID,
		CreatedAt: now,
	}
	return item.WithState(scheduler.New(now))
}

func (i Item) SchedulingState() scheduler.State {
	return scheduler.State{
		Ease:         i.Ease,
		IntervalDays: i.IntervalDays,
		Repetitions:  i.Repetitions,
		Lapses:       i.Lapses,
		DueAt:        i.DueAt,
		LastGradedAt: i.LastGradedAt,
	}
}

// WithState returns a copy of the item carrying s. Version is untouched;
// the store bumps it on commit.
func (i Item) WithState(s scheduler.State) Item {
	i.Ease = s.Ease
	i.IntervalDays = s.IntervalDays
	i.Repetitions = s.Repetitions
	i.Lapses = s.Lapses
	i.DueAt = s.DueAt
	i.LastGradedAt = s.LastGradedAt
	return i
}

func (i Item) IsDue(now time.Time) bool {
	return !now.Before(i.DueAt)
}

type PublishItemRequest struct {
	ID      *uuid.UUID `json:"id"`
	Kind    ItemKind   `json:"kind" validate:"required,oneof=flashcard quiz_question"`
	TopicID string     `json:"topic_id" validate:"required,max=128"`
}

type PublishItemsRequest struct {
	Items []PublishItemRequest `json:"items" validate:"required,min=1,max=500,dive"`
}
