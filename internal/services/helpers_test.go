package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"recall-backend/internal/apperr"
	"recall-backend/internal/logger"
	"recall-backend/internal/models"
	"recall-backend/internal/repository"
)

var (
	learnerA = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	learnerB = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
	t0       = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func seedItems(t *testing.T, store ItemStore, items ...models.Item) []models.Item {
	t.Helper()
	require.NoError(t, store.CreateItems(context.Background(), items))
	return items
}

func dueItem(learner uuid.UUID, topic string, kind models.ItemKind, due time.Time) models.Item {
	it := models.NewItem(uuid.New(), learner, kind, topic, due)
	return it
}

type recordingPublisher struct {
	mu     sync.Mutex
	graded []models.GradeEvent
	items  []models.Item
}

func (p *recordingPublisher) PublishGraded(_ context.Context, ev models.GradeEvent, _ models.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graded = append(p.graded, ev)
}

func (p *recordingPublisher) PublishItems(_ context.Context, items []models.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, items...)
}

func (p *recordingPublisher) gradedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.graded)
}

func newGradeService(store ItemStore, pub EventPublisher, now time.Time) *GradeService {
	return NewGradeService(store, pub, logger.Nop(), GradeConfig{
		StoreTimeout: time.Second,
		MaxAttempts:  5,
		RetryDelay:   time.Millisecond,
	}).WithClock(fixedClock(now))
}

// conflictStore loses every optimistic commit.
type conflictStore struct {
	ItemStore
	commits atomic.Int32
}

func (s *conflictStore) CommitGrade(context.Context, int64, models.Item, models.GradeEvent) (models.GradeEvent, bool, error) {
	s.commits.Add(1)
	return models.GradeEvent{}, false, apperr.ErrVersionConflict
}

// stallingStore blocks item reads until the caller's deadline.
type stallingStore struct {
	ItemStore
}

func (s *stallingStore) GetItem(ctx context.Context, _ uuid.UUID) (*models.Item, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// racingStore holds the first n item reads until all n have happened, so
// n concurrent graders all read the same version.
type racingStore struct {
	ItemStore
	reads     atomic.Int32
	n         int32
	gate      sync.WaitGroup
	conflicts atomic.Int32
}

func newRacingStore(inner ItemStore, n int) *racingStore {
	s := &racingStore{ItemStore: inner, n: int32(n)}
	s.gate.Add(n)
	return s
}

func (s *racingStore) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	it, err := s.ItemStore.GetItem(ctx, id)
	if s.reads.Add(1) <= s.n {
		s.gate.Done()
		s.gate.Wait()
	}
	return it, err
}

func (s *racingStore) CommitGrade(ctx context.Context, v int64, it models.Item, ev models.GradeEvent) (models.GradeEvent, bool, error) {
	stored, replayed, err := s.ItemStore.CommitGrade(ctx, v, it, ev)
	if err != nil && apperr.As(err).Code == apperr.ErrVersionConflict.Code {
		s.conflicts.Add(1)
	}
	return stored, replayed, err
}

func newMemoryStore() *repository.MemoryItemStore {
	return repository.NewMemoryItemStore()
}
