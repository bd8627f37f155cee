package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recall-backend/internal/models"
)

// SettingsRepo stores learner-configured weekly goals and reminder
// preferences. Learners without a row get the defaults.
type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

const settingsColumns = `learner_id, items_target, quizzes_target, minutes_target, days_target,
	email, reminders_enabled, reminder_last_sent_at, updated_at`

func scanSettings(row pgx.Row) (*models.LearnerSettings, error) {
	s := &models.LearnerSettings{}
	err := row.Scan(
		&s.LearnerID, &s.Goals.ItemsTarget, &s.Goals.QuizzesTarget, &s.Goals.MinutesTarget, &s.Goals.DaysTarget,
		&s.Email, &s.RemindersEnabled, &s.ReminderLastSentAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SettingsRepo) GetSettings(ctx context.Context, learnerID uuid.UUID) (*models.LearnerSettings, error) {
	s, err := scanSettings(r.pool.QueryRow(ctx,
		`SELECT `+settingsColumns+` FROM learner_settings WHERE learner_id = $1`, learnerID))
	if errors.Is(err, pgx.ErrNoRows) {
		def := models.DefaultSettings(learnerID)
		return &def, nil
	}
	if err != nil {
		return nil, storeError("get settings", err)
	}
	return s, nil
}

func (r *SettingsRepo) UpsertSettings(ctx context.Context, s *models.LearnerSettings) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO learner_settings (learner_id, items_target, quizzes_target, minutes_target, days_target,
			email, reminders_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (learner_id) DO UPDATE
		SET items_target = EXCLUDED.items_target,
			quizzes_target = EXCLUDED.quizzes_target,
			minutes_target = EXCLUDED.minutes_target,
			days_target = EXCLUDED.days_target,
			email = EXCLUDED.email,
			reminders_enabled = EXCLUDED.reminders_enabled,
			updated_at = NOW()
		RETURNING updated_at
	`, s.LearnerID, s.Goals.ItemsTarget, s.Goals.QuizzesTarget, s.Goals.MinutesTarget, s.Goals.DaysTarget,
		s.Email, s.RemindersEnabled,
	).Scan(&s.UpdatedAt)
	return storeError("upsert settings", err)
}

// ListReminderRecipients returns learners who opted in to due reminders
// and have an address on file.
func (r *SettingsRepo) ListReminderRecipients(ctx context.Context) ([]models.LearnerSettings, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+settingsColumns+`
		FROM learner_settings
		WHERE reminders_enabled = TRUE
		  AND COALESCE(email, '') <> ''
	`)
	if err != nil {
		return nil, storeError("list reminder recipients", err)
	}
	defer rows.Close()

	recipients := make([]models.LearnerSettings, 0)
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, storeError("list reminder recipients", err)
		}
		recipients = append(recipients, *s)
	}
	return recipients, storeError("list reminder recipients", rows.Err())
}

func (r *SettingsRepo) SetReminderSent(ctx context.Context, learnerID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE learner_settings SET reminder_last_sent_at = $2, updated_at = NOW() WHERE learner_id = $1
	`, learnerID, at.UTC())
	return storeError("set reminder sent", err)
}
