package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanEntry references an item by id; the plan never embeds item state.
type PlanEntry struct {
	ItemID  uuid.UUID `json:"item_id"`
	Kind    ItemKind  `json:"kind"`
	TopicID string    `json:"topic_id"`
	DueAt   time.Time `json:"due_at"`
}

// SessionPlan is the ordered selection of due items for one sitting. It
// lives in memory only.
type SessionPlan struct {
	ID        uuid.UUID   `json:"plan_id"`
	LearnerID uuid.UUID   `json:"learner_id"`
	BuiltAt   time.Time   `json:"built_at"`
	Items     []PlanEntry `json:"items"`
}

func (p *SessionPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

type StartSessionRequest struct {
	TopicID  string `json:"topic_id" validate:"omitempty,max=128"`
	MaxItems int    `json:"max_items" validate:"gte=0,lte=500"`
}

type GradeItemRequest struct {
	ItemID         uuid.UUID `json:"item_id" validate:"required"`
	Grade          *int      `json:"grade" validate:"required"`
	IdempotencyKey string    `json:"idempotency_key" validate:"omitempty,max=128"`
}
