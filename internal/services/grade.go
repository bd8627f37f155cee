package services

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"recall-backend/internal/apperr"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
	"recall-backend/internal/scheduler"
)

type GradeRequest struct {
	LearnerID      uuid.UUID
	ItemID         uuid.UUID
	Grade          int
	IdempotencyKey string
}

type GradeResult struct {
	Item     models.Item
	Event    models.GradeEvent
	Replayed bool
}

// Grader applies one grade to one item.
type Grader interface {
	Grade(ctx context.Context, req GradeRequest) (*GradeResult, error)
}

type GradeConfig struct {
	StoreTimeout time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
}

// GradeService applies grades with optimistic concurrency: read the item,
// schedule, and commit guarded by the version that was read. A lost race
// re-reads and recomputes against the winner's state.
type GradeService struct {
	store     ItemStore
	publisher EventPublisher
	log       *logger.Logger
	cfg       GradeConfig
	now       func() time.Time
}

func NewGradeService(store ItemStore, publisher EventPublisher, log *logger.Logger, cfg GradeConfig) *GradeService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return &GradeService{
		store:     store,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Intended for tests and the simulator.
func (s *GradeService) WithClock(now func() time.Time) *GradeService {
	s.now = now
	return s
}

func (s *GradeService) Grade(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	if err := scheduler.ValidateGrade(req.Grade); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "GradeService.Grade")
	defer span.End()
	span.SetAttributes(
		attribute.String("item_id", req.ItemID.String()),
		attribute.Int("grade", req.Grade),
	)

	res, err := s.grade(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.As(err).Code)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("replayed", res.Replayed))
	return res, nil
}

func (s *GradeService) grade(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	if req.IdempotencyKey != "" {
		prev, err := callStore(ctx, s.cfg.StoreTimeout, "get event by key", func(ctx context.Context) (*models.GradeEvent, error) {
			return s.store.GetEventByKey(ctx, req.LearnerID, req.IdempotencyKey)
		})
		if err != nil {
			return nil, err
		}
		if prev != nil {
			return s.replay(ctx, req, *prev)
		}
	}

	var (
		lastErr  error
		attempts int
		result   *GradeResult
	)
	err := retry.Do(
		func() error {
			attempts++
			res, err := s.attempt(ctx, req)
			if err == nil {
				result = res
				return nil
			}
			lastErr = err
			if errors.Is(err, apperr.ErrVersionConflict) {
				return err
			}
			return retry.Unrecoverable(err)
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.cfg.MaxAttempts)),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.log.Debug("grade conflict, retrying", "item_id", req.ItemID, "attempt", n+1, "error", err)
		}),
	)

	switch {
	case err == nil && result != nil:
	case errors.Is(lastErr, apperr.ErrVersionConflict) && ctx.Err() == nil:
		s.log.Warn("grade retries exhausted", "item_id", req.ItemID, "attempts", attempts)
		return nil, apperr.Wrap(apperr.ErrConflictRetryExceeded, lastErr)
	case ctx.Err() != nil:
		return nil, apperr.Wrap(apperr.ErrStoreUnavailable, ctx.Err())
	case lastErr != nil:
		return nil, lastErr
	default:
		return nil, err
	}

	if result.Replayed {
		return result, nil
	}

	s.log.Info("item graded",
		"learner_id", req.LearnerID,
		"item_id", req.ItemID,
		"grade", req.Grade,
		"interval_days", result.Item.IntervalDays,
		"attempts", attempts,
	)
	s.publisher.PublishGraded(ctx, result.Event, result.Item)
	return result, nil
}

// attempt is one read-schedule-commit cycle.
func (s *GradeService) attempt(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	item, err := callStore(ctx, s.cfg.StoreTimeout, "get item", func(ctx context.Context) (*models.Item, error) {
		return s.store.GetItem(ctx, req.ItemID)
	})
	if err != nil {
		return nil, err
	}
	if item.LearnerID != req.LearnerID {
		return nil, apperr.New(apperr.ErrForbidden, "item %s belongs to another learner", req.ItemID)
	}

	now := s.now()
	next, err := scheduler.Schedule(item.SchedulingState(), req.Grade, now)
	if err != nil {
		if errors.Is(err, apperr.ErrCorruptState) {
			s.log.Error("corrupt item state", "item_id", item.ID, "version", item.Version, "error", err)
		}
		return nil, err
	}

	updated := item.WithState(next)
	ev := models.NewGradeEvent(updated, req.Grade, now, req.IdempotencyKey)

	type commit struct {
		ev       models.GradeEvent
		replayed bool
	}
	c, err := callStore(ctx, s.cfg.StoreTimeout, "commit grade", func(ctx context.Context) (commit, error) {
		stored, replayed, err := s.store.CommitGrade(ctx, item.Version, updated, ev)
		return commit{stored, replayed}, err
	})
	if err != nil {
		return nil, err
	}
	if c.replayed {
		return s.replay(ctx, req, c.ev)
	}

	updated.Version = item.Version + 1
	return &GradeResult{Item: updated, Event: c.ev}, nil
}

// replay answers a request whose idempotency key was already committed.
func (s *GradeService) replay(ctx context.Context, req GradeRequest, prev models.GradeEvent) (*GradeResult, error) {
	if prev.ItemID != req.ItemID {
		return nil, apperr.New(apperr.ErrValidation, "idempotency key %q was used for another item", req.IdempotencyKey)
	}
	item, err := callStore(ctx, s.cfg.StoreTimeout, "get item", func(ctx context.Context) (*models.Item, error) {
		return s.store.GetItem(ctx, req.ItemID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("grade replayed", "item_id", req.ItemID, "event_id", prev.ID)
	return &GradeResult{Item: *item, Event: prev, Replayed: true}, nil
}
