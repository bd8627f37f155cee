package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StudySession tracks wall-clock study time for the weekly minutes goal.
// It is independent of review sessions.
type StudySession struct {
	ID              uuid.UUID       `json:"id"`
	LearnerID       uuid.UUID       `json:"learner_id"`
	ActivityType    string          `json:"activity_type"`
	ResourceID      *uuid.UUID      `json:"resource_id,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	LastHeartbeatAt time.Time       `json:"last_heartbeat_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds int             `json:"duration_seconds"`
	ClientMetaJSON  json.RawMessage `json:"client_meta"`
	CreatedAt       time.Time       `json:"created_at"`
}

type StartStudySessionRequest struct {
	ActivityType string          `json:"activity_type" validate:"required,oneof=review quiz reading"`
	ResourceID   *uuid.UUID      `json:"resource_id"`
	ClientMeta   json.RawMessage `json:"client_meta"`
}
