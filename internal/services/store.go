package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/apperr"
	"recall-backend/internal/models"
)

// ItemStore is the durable item table plus the append-only grade log.
// Implemented by repository.ItemRepo and repository.MemoryItemStore.
type ItemStore interface {
	CreateItems(ctx context.Context, items []models.Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	ListDueItems(ctx context.Context, learnerID uuid.UUID, topicID string, now time.Time) ([]models.Item, error)
	ListItems(ctx context.Context, learnerID uuid.UUID) ([]models.Item, error)
	CountDue(ctx context.Context, learnerID uuid.UUID, until time.Time) (int, error)
	CommitGrade(ctx context.Context, expectedVersion int64, item models.Item, ev models.GradeEvent) (models.GradeEvent, bool, error)
	GetEventByKey(ctx context.Context, learnerID uuid.UUID, key string) (*models.GradeEvent, error)
	ListEvents(ctx context.Context, learnerID uuid.UUID) ([]models.GradeEvent, error)
	ListItemEvents(ctx context.Context, itemID uuid.UUID) ([]models.GradeEvent, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context, learnerID uuid.UUID) (*models.LearnerSettings, error)
	UpsertSettings(ctx context.Context, s *models.LearnerSettings) error
}

type StudyTimeStore interface {
	StudySeconds(ctx context.Context, learnerID uuid.UUID, since time.Time) (int, error)
}

// callStore runs fn under a per-call deadline. A deadline hit inside the
// store surfaces as StoreUnavailable regardless of how the driver
// reported it.
func callStore[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := fn(callCtx)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, apperr.ErrStoreUnavailable) {
		return out, err
	}
	if callCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return out, apperr.Wrap(apperr.ErrStoreUnavailable, fmt.Errorf("%s: %w", op, err))
	}
	return out, err
}

func callStoreErr(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	_, err := callStore(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
