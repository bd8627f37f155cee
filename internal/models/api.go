package models

import (
	"time"

	"github.com/google/uuid"
)

// WebSocket message types
const (
	WSProgressUpdated = "progress_updated"
	WSItemGraded      = "item_graded"
	WSSessionUpdated  = "session_updated"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ItemGradedPayload struct {
	ItemID       uuid.UUID `json:"item_id"`
	Grade        int       `json:"grade"`
	IntervalDays int       `json:"interval_days"`
	DueAt        time.Time `json:"due_at"`
}

type SessionUpdatedPayload struct {
	PlanID   uuid.UUID `json:"plan_id"`
	State    string    `json:"state"`
	Position int       `json:"position"`
	Total    int       `json:"total"`
}

// ProgressEvent is the payload carried on the progress events queue.
type ProgressEvent struct {
	Type  string      `json:"type"` // "graded" | "item_published"
	Event *GradeEvent `json:"event,omitempty"`
	Item  *Item       `json:"item,omitempty"`
}

const (
	ProgressEventGraded        = "graded"
	ProgressEventItemPublished = "item_published"
)

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type ProgressUpdatedPayload struct {
	LearnerID uuid.UUID  `json:"learner_id"`
	Cause     string     `json:"cause"`
	ItemID    *uuid.UUID `json:"item_id,omitempty"`
}
