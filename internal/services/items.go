package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/apperr"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
)

type PublishItem struct {
	ID      uuid.UUID
	Kind    models.ItemKind
	TopicID string
}

// ItemService publishes content into the schedule and exposes read access
// to items and their grade history.
type ItemService struct {
	store        ItemStore
	publisher    EventPublisher
	log          *logger.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

func NewItemService(store ItemStore, publisher EventPublisher, log *logger.Logger, storeTimeout time.Duration) *ItemService {
	return &ItemService{
		store:        store,
		publisher:    publisher,
		log:          log,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *ItemService) WithClock(now func() time.Time) *ItemService {
	s.now = now
	return s
}

// Publish creates items due immediately. The batch is all-or-nothing.
func (s *ItemService) Publish(ctx context.Context, learnerID uuid.UUID, reqs []PublishItem) ([]models.Item, error) {
	if len(reqs) == 0 {
		return nil, apperr.New(apperr.ErrValidation, "no items to publish")
	}

	now := s.now()
	seen := make(map[uuid.UUID]struct{}, len(reqs))
	items := make([]models.Item, 0, len(reqs))
	for _, r := range reqs {
		if !r.Kind.Valid() {
			return nil, apperr.New(apperr.ErrValidation, "unknown item kind %q", r.Kind)
		}
		if r.TopicID == "" {
			return nil, apperr.New(apperr.ErrValidation, "topic_id is required")
		}
		it := models.NewItem(r.ID, learnerID, r.Kind, r.TopicID, now)
		if _, dup := seen[it.ID]; dup {
			return nil, apperr.New(apperr.ErrValidation, "item %s appears twice", it.ID)
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}

	err := callStoreErr(ctx, s.storeTimeout, "create items", func(ctx context.Context) error {
		return s.store.CreateItems(ctx, items)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("items published", "learner_id", learnerID, "count", len(items))
	s.publisher.PublishItems(ctx, items)
	return items, nil
}

// Get returns the item if learnerID owns it.
func (s *ItemService) Get(ctx context.Context, learnerID, itemID uuid.UUID) (*models.Item, error) {
	item, err := callStore(ctx, s.storeTimeout, "get item", func(ctx context.Context) (*models.Item, error) {
		return s.store.GetItem(ctx, itemID)
	})
	if err != nil {
		return nil, err
	}
	if item.LearnerID != learnerID {
		return nil, apperr.New(apperr.ErrNotFound, "item %s not found", itemID)
	}
	return item, nil
}

// Events returns the item's grade history, oldest first.
func (s *ItemService) Events(ctx context.Context, learnerID, itemID uuid.UUID) ([]models.GradeEvent, error) {
	if _, err := s.Get(ctx, learnerID, itemID); err != nil {
		return nil, err
	}
	return callStore(ctx, s.storeTimeout, "list item events", func(ctx context.Context) ([]models.GradeEvent, error) {
		return s.store.ListItemEvents(ctx, itemID)
	})
}
