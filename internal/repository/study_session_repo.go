package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"recall-backend/internal/apperr"
	"recall-backend/internal/models"
)

// maxSessionSeconds caps a single study session at twelve hours.
const maxSessionSeconds = 43200

type StudySessionRepo struct {
	pool *pgxpool.Pool
}

func NewStudySessionRepo(pool *pgxpool.Pool) *StudySessionRepo {
	return &StudySessionRepo{pool: pool}
}

func (r *StudySessionRepo) Start(ctx context.Context, s *models.StudySession) error {
	if len(s.ClientMetaJSON) == 0 {
		s.ClientMetaJSON = json.RawMessage("{}")
	}

	// Close a still-open session for the same learner/activity/resource.
	_, err := r.pool.Exec(ctx, `
		UPDATE study_sessions
		SET ended_at = NOW(),
			duration_seconds = GREATEST(0, LEAST($4, EXTRACT(EPOCH FROM (last_heartbeat_at - started_at))::INT)),
			last_heartbeat_at = NOW()
		WHERE learner_id = $1
		  AND activity_type = $2
		  AND resource_id IS NOT DISTINCT FROM $3
		  AND ended_at IS NULL
	`, s.LearnerID, s.ActivityType, s.ResourceID, maxSessionSeconds)
	if err != nil {
		return storeError("close previous study session", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO study_sessions (learner_id, activity_type, resource_id, client_meta_json)
		VALUES ($1, $2, $3, $4)
		RETURNING id, started_at, last_heartbeat_at, created_at
	`, s.LearnerID, s.ActivityType, s.ResourceID, s.ClientMetaJSON).Scan(
		&s.ID,
		&s.StartedAt,
		&s.LastHeartbeatAt,
		&s.CreatedAt,
	)
	return storeError("start study session", err)
}

func (r *StudySessionRepo) Heartbeat(ctx context.Context, sessionID, learnerID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE study_sessions
		SET last_heartbeat_at = NOW()
		WHERE id = $1
		  AND learner_id = $2
		  AND ended_at IS NULL
	`, sessionID, learnerID)
	if err != nil {
		return storeError("study session heartbeat", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.ErrNotFound, "no active study session %s", sessionID)
	}
	return nil
}

func (r *StudySessionRepo) Stop(ctx context.Context, sessionID, learnerID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE study_sessions
		SET ended_at = CASE WHEN ended_at IS NULL THEN NOW() ELSE ended_at END,
			last_heartbeat_at = NOW(),
			duration_seconds = CASE
				WHEN ended_at IS NULL THEN GREATEST(0, LEAST($3, EXTRACT(EPOCH FROM (NOW() - started_at))::INT))
				ELSE duration_seconds
			END
		WHERE id = $1
		  AND learner_id = $2
	`, sessionID, learnerID, maxSessionSeconds)
	if err != nil {
		return storeError("stop study session", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.ErrNotFound, "study session %s not found", sessionID)
	}
	return nil
}

// StudySeconds sums study time started at or after since. Open sessions
// count up to their last heartbeat.
func (r *StudySessionRepo) StudySeconds(ctx context.Context, learnerID uuid.UUID, since time.Time) (int, error) {
	var seconds int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE
				WHEN ended_at IS NULL THEN GREATEST(0, LEAST($3, EXTRACT(EPOCH FROM (last_heartbeat_at - started_at))::INT))
				ELSE duration_seconds
			END
		), 0)::INT
		FROM study_sessions
		WHERE learner_id = $1
		  AND started_at >= $2
	`, learnerID, since, maxSessionSeconds).Scan(&seconds)
	return seconds, storeError("sum study seconds", err)
}
