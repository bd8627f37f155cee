package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recall-backend/internal/apperr"
	"recall-backend/internal/models"
)

const itemColumns = `id, learner_id, kind, topic_id, ease, interval_days, due_at,
	repetitions, lapses, last_graded_at, version, created_at`

const eventColumns = `id, item_id, learner_id, topic_id, kind, grade, graded_at,
	resulting_interval, resulting_ease, resulting_repetitions, resulting_lapses, idempotency_key`

// ItemRepo persists items and the grade log. Item scheduling fields are
// only changed through CommitGrade, which guards on the item version.
type ItemRepo struct {
	pool *pgxpool.Pool
}

func NewItemRepo(pool *pgxpool.Pool) *ItemRepo {
	return &ItemRepo{pool: pool}
}

func scanItem(row pgx.Row) (*models.Item, error) {
	it := &models.Item{}
	err := row.Scan(
		&it.ID, &it.LearnerID, &it.Kind, &it.TopicID, &it.Ease, &it.IntervalDays, &it.DueAt,
		&it.Repetitions, &it.Lapses, &it.LastGradedAt, &it.Version, &it.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func scanEvent(row pgx.Row) (*models.GradeEvent, error) {
	ev := &models.GradeEvent{}
	err := row.Scan(
		&ev.ID, &ev.ItemID, &ev.LearnerID, &ev.TopicID, &ev.Kind, &ev.Grade, &ev.GradedAt,
		&ev.ResultingInterval, &ev.ResultingEase, &ev.ResultingRepetitions, &ev.ResultingLapses, &ev.IdempotencyKey,
	)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// CreateItems inserts freshly published items in one transaction. An id
// that already exists fails the whole batch.
func (r *ItemRepo) CreateItems(ctx context.Context, items []models.Item) error {
	err := runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		for i := range items {
			it := &items[i]
			tag, err := tx.Exec(ctx, `
				INSERT INTO items (id, learner_id, kind, topic_id, ease, interval_days, due_at,
					repetitions, lapses, last_graded_at, version, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11)
				ON CONFLICT (id) DO NOTHING
			`, it.ID, it.LearnerID, it.Kind, it.TopicID, it.Ease, it.IntervalDays, it.DueAt,
				it.Repetitions, it.Lapses, it.LastGradedAt, it.CreatedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return apperr.New(apperr.ErrValidation, "item %s already exists", it.ID)
			}
			it.Version = 1
		}
		return nil
	})
	return storeError("create items", err)
}

func (r *ItemRepo) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("get item", err)
	}
	return it, nil
}

func (r *ItemRepo) queryItems(ctx context.Context, op, query string, args ...any) ([]models.Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError(op, err)
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, storeError(op, err)
		}
		items = append(items, *it)
	}
	return items, storeError(op, rows.Err())
}

// ListDueItems returns the learner's items with dueAt <= now, optionally
// restricted to one topic. Ordering is left to the queue builder.
func (r *ItemRepo) ListDueItems(ctx context.Context, learnerID uuid.UUID, topicID string, now time.Time) ([]models.Item, error) {
	return r.queryItems(ctx, "list due items", `
		SELECT `+itemColumns+`
		FROM items
		WHERE learner_id = $1
		  AND due_at <= $2
		  AND ($3 = '' OR topic_id = $3)
	`, learnerID, now, topicID)
}

func (r *ItemRepo) ListItems(ctx context.Context, learnerID uuid.UUID) ([]models.Item, error) {
	return r.queryItems(ctx, "list items", `
		SELECT `+itemColumns+` FROM items WHERE learner_id = $1 ORDER BY created_at, id
	`, learnerID)
}

func (r *ItemRepo) CountDue(ctx context.Context, learnerID uuid.UUID, until time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM items WHERE learner_id = $1 AND due_at <= $2`,
		learnerID, until,
	).Scan(&n)
	return n, storeError("count due", err)
}

// CommitGrade atomically replaces the item's scheduling state and appends
// ev to the log. The update only applies while the stored version still
// equals expectedVersion; otherwise ErrVersionConflict is returned and
// nothing is written. When ev carries an idempotency key that was already
// committed, the stored event is returned with replayed=true.
func (r *ItemRepo) CommitGrade(ctx context.Context, expectedVersion int64, item models.Item, ev models.GradeEvent) (stored models.GradeEvent, replayed bool, err error) {
	err = runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		if ev.IdempotencyKey != nil {
			prev, err := scanEvent(tx.QueryRow(ctx,
				`SELECT `+eventColumns+` FROM grade_events WHERE learner_id = $1 AND idempotency_key = $2`,
				ev.LearnerID, *ev.IdempotencyKey,
			))
			switch {
			case err == nil:
				stored, replayed = *prev, true
				return nil
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE items
			SET ease = $3, interval_days = $4, due_at = $5, repetitions = $6, lapses = $7,
				last_graded_at = $8, version = version + 1
			WHERE id = $1 AND version = $2
		`, item.ID, expectedVersion, item.Ease, item.IntervalDays, item.DueAt,
			item.Repetitions, item.Lapses, item.LastGradedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrVersionConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO grade_events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, ev.ID, ev.ItemID, ev.LearnerID, ev.TopicID, ev.Kind, ev.Grade, ev.GradedAt,
			ev.ResultingInterval, ev.ResultingEase, ev.ResultingRepetitions, ev.ResultingLapses, ev.IdempotencyKey)
		if err != nil {
			return err
		}
		stored = ev
		return nil
	})
	if err != nil {
		return models.GradeEvent{}, false, storeError("commit grade", err)
	}
	return stored, replayed, nil
}

// GetEventByKey returns the event committed under key, or nil.
func (r *ItemRepo) GetEventByKey(ctx context.Context, learnerID uuid.UUID, key string) (*models.GradeEvent, error) {
	ev, err := scanEvent(r.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM grade_events WHERE learner_id = $1 AND idempotency_key = $2`,
		learnerID, key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get event by key", err)
	}
	return ev, nil
}

func (r *ItemRepo) queryEvents(ctx context.Context, op, query string, args ...any) ([]models.GradeEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError(op, err)
	}
	defer rows.Close()

	events := make([]models.GradeEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, storeError(op, err)
		}
		events = append(events, *ev)
	}
	return events, storeError(op, rows.Err())
}

func (r *ItemRepo) ListEvents(ctx context.Context, learnerID uuid.UUID) ([]models.GradeEvent, error) {
	return r.queryEvents(ctx, "list events", `
		SELECT `+eventColumns+` FROM grade_events WHERE learner_id = $1 ORDER BY graded_at, id
	`, learnerID)
}

func (r *ItemRepo) ListItemEvents(ctx context.Context, itemID uuid.UUID) ([]models.GradeEvent, error) {
	return r.queryEvents(ctx, "list item events", `
		SELECT `+eventColumns+` FROM grade_events WHERE item_id = $1 ORDER BY graded_at, id
	`, itemID)
}
