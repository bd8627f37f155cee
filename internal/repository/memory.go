package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"recall-backend/internal/apperr"
	"recall-backend/internal/models"
)

type eventKey struct {
	learnerID uuid.UUID
	key       string
}

// MemoryItemStore is an in-process ItemRepo with the same version-guarded
// commit semantics. It backs the simulator and service tests.
type MemoryItemStore struct {
	mu     sync.RWMutex
	items  map[uuid.UUID]models.Item
	events []models.GradeEvent
	byKey  map[eventKey]int
}

func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{
		items: make(map[uuid.UUID]models.Item),
		byKey: make(map[eventKey]int),
	}
}

func (s *MemoryItemStore) CreateItems(ctx context.Context, items []models.Item) error {
	if err := ctx.Err(); err != nil {
		return storeError("create items", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		if _, exists := s.items[it.ID]; exists {
			return apperr.New(apperr.ErrValidation, "item %s already exists", it.ID)
		}
	}
	for i := range items {
		items[i].Version = 1
		s.items[items[i].ID] = items[i]
	}
	return nil
}

func (s *MemoryItemStore) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("get item", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "item %s not found", id)
	}
	return &it, nil
}

func (s *MemoryItemStore) ListDueItems(ctx context.Context, learnerID uuid.UUID, topicID string, now time.Time) ([]models.Item, error) {
	return s.filter(ctx, "list due items", func(it models.Item) bool {
		return it.LearnerID == learnerID && it.IsDue(now) && (topicID == "" || it.TopicID == topicID)
	})
}

func (s *MemoryItemStore) ListItems(ctx context.Context, learnerID uuid.UUID) ([]models.Item, error) {
	items, err := s.filter(ctx, "list items", func(it models.Item) bool { return it.LearnerID == learnerID })
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items, nil
}

func (s *MemoryItemStore) CountDue(ctx context.Context, learnerID uuid.UUID, until time.Time) (int, error) {
	items, err := s.ListDueItems(ctx, learnerID, "", until)
	return len(items), err
}

func (s *MemoryItemStore) filter(ctx context.Context, op string, keep func(models.Item) bool) ([]models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError(op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Item, 0)
	for _, it := range s.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *MemoryItemStore) CommitGrade(ctx context.Context, expectedVersion int64, item models.Item, ev models.GradeEvent) (models.GradeEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.GradeEvent{}, false, storeError("commit grade", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.IdempotencyKey != nil {
		if idx, ok := s.byKey[eventKey{ev.LearnerID, *ev.IdempotencyKey}]; ok {
			return s.events[idx], true, nil
		}
	}

	current, ok := s.items[item.ID]
	if !ok {
		return models.GradeEvent{}, false, apperr.New(apperr.ErrNotFound, "item %s not found", item.ID)
	}
	if current.Version != expectedVersion {
		return models.GradeEvent{}, false, apperr.ErrVersionConflict
	}
	if err := item.SchedulingState().Validate(); err != nil {
		return models.GradeEvent{}, false, err
	}

	item.Version = expectedVersion + 1
	item.LearnerID = current.LearnerID
	item.CreatedAt = current.CreatedAt
	s.items[item.ID] = item
	s.events = append(s.events, ev)
	if ev.IdempotencyKey != nil {
		s.byKey[eventKey{ev.LearnerID, *ev.IdempotencyKey}] = len(s.events) - 1
	}
	return ev, false, nil
}

func (s *MemoryItemStore) GetEventByKey(ctx context.Context, learnerID uuid.UUID, key string) (*models.GradeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("get event by key", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byKey[eventKey{learnerID, key}]
	if !ok {
		return nil, nil
	}
	ev := s.events[idx]
	return &ev, nil
}

func (s *MemoryItemStore) ListEvents(ctx context.Context, learnerID uuid.UUID) ([]models.GradeEvent, error) {
	return s.filterEvents(ctx, "list events", func(ev models.GradeEvent) bool { return ev.LearnerID == learnerID })
}

func (s *MemoryItemStore) ListItemEvents(ctx context.Context, itemID uuid.UUID) ([]models.GradeEvent, error) {
	return s.filterEvents(ctx, "list item events", func(ev models.GradeEvent) bool { return ev.ItemID == itemID })
}

func (s *MemoryItemStore) filterEvents(ctx context.Context, op string, keep func(models.GradeEvent) bool) ([]models.GradeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError(op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.GradeEvent, 0)
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].GradedAt.Before(out[j].GradedAt) })
	return out, nil
}
